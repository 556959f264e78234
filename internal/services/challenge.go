package services

import (
	"errors"
	"log"
	"os"
	"sync"
	"time"
	"uptune/internal/db"
	"uptune/internal/models"
	"uptune/internal/utils"

	"gorm.io/gorm"
)

// ChallengeService rotates the "weekly challenge" flag across the active
// lists on a fixed cadence. Exactly one list carries the flag at a time;
// rotation walks the active lists in creation order and wraps around.
type ChallengeService struct{}

var (
	challengeService *ChallengeService
	challengeOnce    sync.Once
)

// GetChallengeService returns the singleton rotation service
func GetChallengeService() *ChallengeService {
	challengeOnce.Do(func() {
		challengeService = &ChallengeService{}
	})
	return challengeService
}

// StartRotation launches the background rotation loop. Interval comes
// from CHALLENGE_ROTATE_HOURS, defaulting to a week.
func (s *ChallengeService) StartRotation() {
	hours := utils.StringToInt(os.Getenv("CHALLENGE_ROTATE_HOURS"))
	if hours <= 0 {
		hours = 24 * 7
	}
	interval := time.Duration(hours) * time.Hour

	go func() {
		for {
			time.Sleep(interval)
			if err := s.Rotate(); err != nil {
				log.Printf("Weekly challenge rotation failed: %v", err)
			}
		}
	}()
}

// Rotate moves the challenge flag to the next active list after the
// current champion, in creation order, wrapping to the oldest when the
// champion is the newest. A no-op when there are no active lists.
func (s *ChallengeService) Rotate() error {
	err := db.DB.Transaction(func(tx *gorm.DB) error {
		var current models.List
		err := tx.Where("is_weekly_challenge = ?", true).First(&current).Error
		hasCurrent := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var next models.List
		query := tx.Where("active = ?", true).Order("created_at ASC")
		if hasCurrent {
			query = query.Where("created_at > ?", current.CreatedAt)
		}
		if err := query.First(&next).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			// Wrap around to the oldest active list
			err = tx.Where("active = ?", true).Order("created_at ASC").First(&next).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
		}

		if err := tx.Model(&models.List{}).
			Where("is_weekly_challenge = ?", true).
			UpdateColumn("is_weekly_challenge", false).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.List{}).
			Where("id = ?", next.ID).
			UpdateColumn("is_weekly_challenge", true).Error; err != nil {
			return err
		}

		log.Printf("Weekly challenge rotated to list %d (%s)", next.ID, next.Title)
		return nil
	})
	if err != nil {
		return err
	}

	utils.GetCache().Delete(listsCacheKey)
	return nil
}
