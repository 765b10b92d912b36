package service

import (
	"context"
	"errors"
	"time"

	"paper_ledger/internal/models"
)

var (
	// ErrNotFound: unknown position, or one that is already closed.
	ErrNotFound = errors.New("ledger: not found")
	// ErrUnavailable: neither the primary nor the local store could serve the call.
	ErrUnavailable = errors.New("ledger: store unavailable")
	ErrEmptyUser   = errors.New("ledger: empty user id")
	// ErrPartialClose: the position moved to closed but a later close step
	// failed on the same backend. Retrying elsewhere cannot complete it.
	ErrPartialClose = errors.New("ledger: close partially applied")
)

// Store is the ledger persistence contract. Every backend keeps the same
// document schema so records survive a trip through either one.
type Store interface {
	// GetAccount returns the user's account, creating and persisting the
	// default one on first access.
	GetAccount(ctx context.Context, userID string) (*models.Account, error)
	// PutAccount merge-upserts fields and stamps updated_at.
	PutAccount(ctx context.Context, userID string, fields Fields) error
	// AddPosition stores p and returns its new position_id.
	AddPosition(ctx context.Context, userID string, p *models.Position) (string, error)
	ListOpenPositions(ctx context.Context, userID string) ([]*models.Position, error)
	// UpdatePosition merges fields into an open position. The id is tried as
	// the physical document id first, then as the logical position_id.
	UpdatePosition(ctx context.Context, userID, positionID string, fields Fields) error
	// ClosePosition moves an open position to closed, appends the history
	// entry, then settles the account, in that order. Closing a position that
	// is not open returns ErrNotFound.
	ClosePosition(ctx context.Context, userID, positionID string, s Settlement) error
	AddHistory(ctx context.Context, userID string, h *models.HistoryEntry) (string, error)
	// ListHistory returns entries newest first.
	ListHistory(ctx context.Context, userID string) ([]*models.HistoryEntry, error)
}

// Settlement is what closing a position books.
type Settlement struct {
	ClosePrice    float64
	ProfitLoss    float64
	MarginRelease float64
}

// Options shared by the backends.
type Options struct {
	DefaultBalance float64
	Now            func() time.Time
}

func (o Options) Time() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

func (o Options) Balance() float64 {
	if o.DefaultBalance > 0 {
		return o.DefaultBalance
	}
	return 1000.0
}

// IsDomain reports errors that describe the request, not the backend; those
// never trigger a fallback.
func IsDomain(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrEmptyUser)
}

// IsFinal reports errors after which the call must not be replayed on
// another store.
func IsFinal(err error) bool {
	return IsDomain(err) || errors.Is(err, ErrPartialClose)
}
