// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("podcast not found")
	ErrSessionExists   = errors.New("podcast already exists")
)

// SessionID identifies one podcast broadcast.
type SessionID string

// NewSessionID returns a random id. Uniqueness against live sessions is
// enforced by the registry, not here.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// SessionData is the public, copyable view of a podcast.
type SessionData struct {
	ID          SessionID
	ActiveSince *time.Time
	Host        ParticipantID
}

func NewSessionData(id SessionID, host ParticipantID) SessionData {
	return SessionData{ID: id, Host: host}
}

func (d SessionData) IsActive() bool { return d.ActiveSince != nil }

// Activate sets ActiveSince once. It reports whether the transition happened.
func (d *SessionData) Activate(now time.Time) bool {
	if d.ActiveSince != nil {
		return false
	}
	t := now
	d.ActiveSince = &t
	return true
}

// Clone detaches the snapshot from the live session's timestamp pointer.
func (d SessionData) Clone() SessionData {
	if d.ActiveSince != nil {
		t := *d.ActiveSince
		d.ActiveSince = &t
	}
	return d
}
