package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"uptune/internal/db"
	"uptune/internal/models"
	"uptune/internal/utils"

	"github.com/microcosm-cc/bluemonday"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const listsCacheKey = "community:lists"

func entriesCacheKey(listID uint) string {
	return fmt.Sprintf("community:entries:%d", listID)
}

// CommunityService owns the submission / voting core: duplicate-to-vote
// merge on submit, one-vote-per-voter enforcement, and the denormalized
// entry score. All cross-request coordination is delegated to the
// database's transactions and unique constraints; the service holds no
// mutable state of its own.
type CommunityService struct {
	sanitizer *bluemonday.Policy
}

var communityService *CommunityService

// GetCommunityService returns the singleton community service
func GetCommunityService() *CommunityService {
	if communityService == nil {
		communityService = &CommunityService{
			sanitizer: bluemonday.StrictPolicy(),
		}
	}
	return communityService
}

// SubmitEntryInput is one attempted song submission into a list.
// Voter is only consulted when the submission collapses into a vote.
type SubmitEntryInput struct {
	ListID         uint
	SpotifyTrackID string
	SongTitle      string
	ArtistName     string
	AlbumName      string
	ImageURL       string
	ContextReason  string
	SubmitterName  string
	Voter          models.VoterIdentity
}

// SubmitResult reports what a submission turned into: a fresh entry, or
// a vote on the entry somebody else already created for the same track.
type SubmitResult struct {
	Entry       *models.Entry
	IsDuplicate bool
	Message     string
}

// SubmitEntry inserts a new entry for (list, track), or, when that pair
// already exists, converts the submission into a +1 vote on the existing
// entry. The unique index on (list_id, spotify_track_id) is what decides:
// the insert is attempted first and gorm.ErrDuplicatedKey is the expected,
// handled signal — not a failure. A duplicate submission from a voter who
// already voted on the entry still succeeds; the redundant vote is simply
// dropped.
func (s *CommunityService) SubmitEntry(input SubmitEntryInput) (*SubmitResult, error) {
	if err := s.validateSubmission(input); err != nil {
		return nil, err
	}

	var list models.List
	if err := db.DB.Where("id = ? AND active = ?", input.ListID, true).First(&list).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrListNotFound
		}
		return nil, err
	}

	entry := models.Entry{
		ListID:         input.ListID,
		SpotifyTrackID: input.SpotifyTrackID,
		SongTitle:      strings.TrimSpace(input.SongTitle),
		ArtistName:     strings.TrimSpace(input.ArtistName),
		AlbumName:      strings.TrimSpace(input.AlbumName),
		ImageURL:       strings.TrimSpace(input.ImageURL),
		ContextReason:  s.sanitizer.Sanitize(strings.TrimSpace(input.ContextReason)),
		SubmitterName:  s.sanitizer.Sanitize(strings.TrimSpace(input.SubmitterName)),
	}

	err := db.DB.Create(&entry).Error
	if err == nil {
		s.invalidate(input.ListID)
		return &SubmitResult{Entry: &entry}, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, err
	}

	// Somebody got there first: merge this submission into a vote.
	existing, err := s.GetEntry(input.ListID, input.SpotifyTrackID)
	if err != nil {
		return nil, err
	}
	if input.Voter.Valid() {
		if err := s.CastVote(existing.ID, input.Voter, 1); err != nil && !errors.Is(err, ErrAlreadyVoted) {
			return nil, err
		}
		// Re-read for the refreshed score
		existing, err = s.GetEntry(input.ListID, input.SpotifyTrackID)
		if err != nil {
			return nil, err
		}
	}

	return &SubmitResult{
		Entry:       existing,
		IsDuplicate: true,
		Message:     fmt.Sprintf("Someone already picked %q — your vote was added to it!", existing.SongTitle),
	}, nil
}

// entryLockClauses returns the row-locking clauses for the vote
// transaction. Postgres runs READ COMMITTED, where two concurrent
// voters can each compute a sum that misses the other's uncommitted
// vote; SELECT ... FOR UPDATE on the entry row serializes them so the
// later recompute sees the earlier committed vote. SQLite has no FOR
// UPDATE and already serializes writers on its database lock.
func entryLockClauses(dialect string) []clause.Expression {
	if dialect != "postgres" {
		return nil
	}
	return []clause.Expression{clause.Locking{Strength: "UPDATE"}}
}

// CastVote applies one vote to one entry as a single transaction: lock
// the entry row, insert the vote row, recompute SUM(direction) over the
// entry's votes, write the sum back to vote_score. The score is always
// recomputed from the vote rows rather than incremented in place, so a
// lost or repeated update can never make it drift, and the row lock
// keeps concurrent recomputes from writing each other's stale sums. The
// (entry_id, voter_key) unique index is the race-proof backstop behind
// the pre-check.
func (s *CommunityService) CastVote(entryID uint, voter models.VoterIdentity, direction int) error {
	if err := validateVote(voter, direction); err != nil {
		return err
	}

	var listID uint
	err := db.DB.Transaction(func(tx *gorm.DB) error {
		var entry models.Entry
		if err := tx.Clauses(entryLockClauses(tx.Dialector.Name())...).First(&entry, entryID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrEntryNotFound
			}
			return err
		}
		listID = entry.ListID

		// Pre-check for a clean error; the unique index catches the race.
		var count int64
		if err := tx.Model(&models.Vote{}).
			Where("entry_id = ? AND voter_key = ?", entryID, voter.Key()).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrAlreadyVoted
		}

		vote := models.Vote{
			EntryID:   entryID,
			UserID:    voter.UserID,
			VoterKey:  voter.Key(),
			Direction: direction,
		}
		if voter.UserID == nil {
			guest := voter.GuestToken
			vote.GuestSessionID = &guest
		}
		if err := tx.Create(&vote).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyVoted
			}
			return err
		}

		var sum int64
		if err := tx.Model(&models.Vote{}).
			Where("entry_id = ?", entryID).
			Select("COALESCE(SUM(direction), 0)").
			Scan(&sum).Error; err != nil {
			return err
		}

		return tx.Model(&models.Entry{}).
			Where("id = ?", entryID).
			UpdateColumn("vote_score", sum).Error
	})
	if err != nil {
		return err
	}

	s.invalidate(listID)
	return nil
}

// GetLists returns the active lists in display order: the weekly
// challenge first, then by total entry votes, then newest first.
// Totals are summed fresh on each (uncached) call rather than kept in a
// rollup column.
func (s *CommunityService) GetLists() ([]models.List, error) {
	if cached := utils.GetCache().Get(listsCacheKey); cached != nil {
		if lists, ok := cached.([]models.List); ok {
			return lists, nil
		}
	}

	var lists []models.List
	if err := db.DB.Where("active = ?", true).Order("created_at DESC").Find(&lists).Error; err != nil {
		return nil, err
	}

	if err := fillListTotals(lists); err != nil {
		return nil, err
	}

	sort.SliceStable(lists, func(i, j int) bool {
		if lists[i].IsWeeklyChallenge != lists[j].IsWeeklyChallenge {
			return lists[i].IsWeeklyChallenge
		}
		if lists[i].TotalVotes != lists[j].TotalVotes {
			return lists[i].TotalVotes > lists[j].TotalVotes
		}
		return lists[i].CreatedAt.After(lists[j].CreatedAt)
	})

	utils.GetCache().Set(listsCacheKey, lists, 1*time.Minute)
	return lists, nil
}

// fillListTotals batch-fills TotalVotes for the given lists
func fillListTotals(lists []models.List) error {
	if len(lists) == 0 {
		return nil
	}

	listIDs := make([]uint, len(lists))
	for i, l := range lists {
		listIDs[i] = l.ID
	}

	type sumResult struct {
		ListID uint
		Total  int
	}
	var results []sumResult
	if err := db.DB.Model(&models.Entry{}).
		Select("list_id, COALESCE(SUM(vote_score), 0) as total").
		Where("list_id IN ?", listIDs).
		Group("list_id").
		Scan(&results).Error; err != nil {
		return err
	}

	totals := make(map[uint]int)
	for _, r := range results {
		totals[r.ListID] = r.Total
	}

	for i := range lists {
		lists[i].TotalVotes = totals[lists[i].ID]
	}
	return nil
}

// GetListBySlug returns an active list by its slug
func (s *CommunityService) GetListBySlug(slug string) (*models.List, error) {
	var list models.List
	if err := db.DB.Where("slug = ? AND active = ?", slug, true).First(&list).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrListNotFound
		}
		return nil, err
	}
	return &list, nil
}

// GetEntries returns a list's entries in leaderboard order: score
// descending, earlier submissions ranking above later ones on ties.
func (s *CommunityService) GetEntries(listID uint) ([]models.Entry, error) {
	if cached := utils.GetCache().Get(entriesCacheKey(listID)); cached != nil {
		if entries, ok := cached.([]models.Entry); ok {
			return entries, nil
		}
	}

	var entries []models.Entry
	if err := db.DB.Where("list_id = ?", listID).
		Order("vote_score DESC, created_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}

	utils.GetCache().Set(entriesCacheKey(listID), entries, 1*time.Minute)
	return entries, nil
}

// GetEntry returns the entry for a (list, track) pair, or ErrEntryNotFound
func (s *CommunityService) GetEntry(listID uint, trackID string) (*models.Entry, error) {
	var entry models.Entry
	if err := db.DB.Where("list_id = ? AND spotify_track_id = ?", listID, trackID).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// GetVote returns the voter's existing vote on an entry, or nil when the
// voter has not voted. Clients use it to render vote-button state without
// attempting a vote first.
func (s *CommunityService) GetVote(entryID uint, voter models.VoterIdentity) (*models.Vote, error) {
	if !voter.Valid() {
		ve := newValidationError()
		ve.Fields["voter"] = "exactly one of userId or guestSessionId is required"
		return nil, ve
	}

	var vote models.Vote
	err := db.DB.Where("entry_id = ? AND voter_key = ?", entryID, voter.Key()).First(&vote).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &vote, nil
}

func (s *CommunityService) validateSubmission(input SubmitEntryInput) error {
	ve := newValidationError()
	if strings.TrimSpace(input.SpotifyTrackID) == "" {
		ve.Fields["spotifyTrackId"] = "required"
	}
	if strings.TrimSpace(input.SongTitle) == "" {
		ve.Fields["songTitle"] = "required"
	}
	if strings.TrimSpace(input.ArtistName) == "" {
		ve.Fields["artistName"] = "required"
	}
	if len(ve.Fields) > 0 {
		return ve
	}
	return nil
}

func validateVote(voter models.VoterIdentity, direction int) error {
	ve := newValidationError()
	if direction != 1 && direction != -1 {
		ve.Fields["voteDirection"] = "must be 1 or -1"
	}
	if !voter.Valid() {
		ve.Fields["voter"] = "exactly one of userId or guestSessionId is required"
	}
	if len(ve.Fields) > 0 {
		return ve
	}
	return nil
}

func (s *CommunityService) invalidate(listID uint) {
	utils.GetCache().Delete(listsCacheKey)
	utils.GetCache().Delete(entriesCacheKey(listID))
}
