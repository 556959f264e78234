package models

import (
	"time"
)

type List struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Title             string    `gorm:"not null" json:"title"`
	Description       string    `gorm:"type:text" json:"description"`
	Slug              string    `gorm:"uniqueIndex;size:100;not null" json:"slug"`
	Emoji             string    `gorm:"size:16" json:"emoji"`
	Active            bool      `gorm:"default:true" json:"active"`
	IsWeeklyChallenge bool      `gorm:"default:false" json:"is_weekly_challenge"`
	CreatedAt         time.Time `json:"created_at"`

	// Filled at query time, not a column
	TotalVotes int `gorm:"-" json:"total_votes"`
}
