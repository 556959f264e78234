package models

import (
	"time"
)

type Entry struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ListID         uint      `gorm:"not null;uniqueIndex:idx_list_track,priority:1" json:"list_id"`
	List           List      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	SpotifyTrackID string    `gorm:"size:64;not null;uniqueIndex:idx_list_track,priority:2" json:"spotify_track_id"`
	SongTitle      string    `gorm:"not null" json:"song_title"`
	ArtistName     string    `gorm:"not null" json:"artist_name"`
	AlbumName      string    `json:"album_name"`
	ImageURL       string    `json:"image_url"`
	ContextReason  string    `gorm:"size:500" json:"context_reason"`
	SubmitterName  string    `gorm:"size:100" json:"submitter_name"`
	VoteScore      int       `gorm:"default:0" json:"vote_score"`
	CreatedAt      time.Time `json:"created_at"`
}
