// Package store keeps the records of completed challenges so a relying
// service can confirm a liveness result after the session is gone.
package store

import (
	"context"
	"errors"
	"time"

	"FacePoseServer/challenge"
)

var ErrNotFound = errors.New("record not found")

// Record is the outcome of one completed challenge.
type Record struct {
	SessionID   string          `json:"sessionID"`
	Description string          `json:"description,omitempty"`
	CompletedAt time.Time       `json:"completedAt"`
	Frames      int             `json:"frames"`
	Flags       challenge.Flags `json:"flags"`
}

type Store interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, sessionID string) (Record, error)
	Close() error
}
