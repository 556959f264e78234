package models

import (
	"fmt"
	"time"
)

type Vote struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	EntryID        uint      `gorm:"not null;uniqueIndex:idx_entry_voter,priority:1" json:"entry_id"`
	Entry          Entry     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	UserID         *uint     `gorm:"index" json:"user_id"`
	GuestSessionID *string   `gorm:"index" json:"guest_session_id"`
	VoterKey       string    `gorm:"size:120;not null;uniqueIndex:idx_entry_voter,priority:2" json:"-"`
	Direction      int       `gorm:"not null" json:"direction"` // 1 or -1
	CreatedAt      time.Time `json:"created_at"`
}

// VoterKey exists because a unique index over the nullable (user_id,
// guest_session_id) pair does not dedupe in Postgres: NULLs compare as
// distinct. The key collapses the identity into one NOT NULL column so
// (entry_id, voter_key) can carry the one-vote-per-voter constraint.

// VoterIdentity identifies who is voting: an authenticated user or an
// unauthenticated guest session. Exactly one of the two is set. It is
// always passed explicitly, never pulled from ambient request state.
type VoterIdentity struct {
	UserID     *uint
	GuestToken string
}

func AuthenticatedUser(id uint) VoterIdentity {
	return VoterIdentity{UserID: &id}
}

func GuestSession(token string) VoterIdentity {
	return VoterIdentity{GuestToken: token}
}

// Valid reports whether exactly one side of the identity is present.
func (v VoterIdentity) Valid() bool {
	return (v.UserID != nil) != (v.GuestToken != "")
}

// Key returns the deduplication key stored in Vote.VoterKey.
func (v VoterIdentity) Key() string {
	if v.UserID != nil {
		return fmt.Sprintf("user:%d", *v.UserID)
	}
	return "guest:" + v.GuestToken
}
