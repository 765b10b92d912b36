package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"paper_ledger/internal/models"
	healthsvc "paper_ledger/internal/modules/health/service"
	"paper_ledger/pkg/tracing"
)

// Fallback serves every call from the primary store and retries it on the
// local store when the primary is missing or fails. The decision is made per
// call; a primary that comes back is used again on the next one.
type Fallback struct {
	primary Store
	local   Store
	timeout time.Duration
	log     *zap.Logger
	state   *healthsvc.State
}

var _ Store = (*Fallback)(nil)

// NewFallback wraps primary (may be nil) with local.
func NewFallback(primary, local Store, timeout time.Duration, log *zap.Logger, state *healthsvc.State) *Fallback {
	if log == nil {
		log = zap.NewNop()
	}
	if state == nil {
		state = healthsvc.NewState()
	}
	return &Fallback{
		primary: primary,
		local:   local,
		timeout: timeout,
		log:     log,
		state:   state,
	}
}

func run[T any](ctx context.Context, f *Fallback, op, userID string, fn func(context.Context, Store) (T, error)) (out T, err error) {
	span, ctx := tracing.Start(ctx, "ledger."+op, userID)
	defer func() { tracing.Finish(span, err) }()

	if userID == "" {
		return out, fmt.Errorf("%s: %w", op, ErrEmptyUser)
	}

	if f.primary != nil {
		pctx, cancel := ctx, context.CancelFunc(func() {})
		if f.timeout > 0 {
			pctx, cancel = context.WithTimeout(ctx, f.timeout)
		}
		out, err = fn(pctx, f.primary)
		cancel()

		if err == nil || IsDomain(err) {
			f.state.PrimaryOK()
			return out, err
		}
		if IsFinal(err) {
			f.state.PrimaryFailed(err)
			f.log.Error("primary store left a partial write, not falling back",
				zap.String("op", op),
				zap.String("user_id", userID),
				zap.Error(err),
			)
			return out, err
		}
		if ctx.Err() != nil {
			var zero T
			return zero, fmt.Errorf("%s: %w", op, ctx.Err())
		}

		f.state.PrimaryFailed(err)
		f.log.Warn("primary store failed, using local fallback",
			zap.String("op", op),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}

	out, err = fn(ctx, f.local)
	if err != nil && !IsDomain(err) {
		f.log.Error("local store failed",
			zap.String("op", op),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		var zero T
		return zero, fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return out, err
}

func (f *Fallback) GetAccount(ctx context.Context, userID string) (*models.Account, error) {
	return run(ctx, f, "get_account", userID, func(ctx context.Context, s Store) (*models.Account, error) {
		return s.GetAccount(ctx, userID)
	})
}

func (f *Fallback) PutAccount(ctx context.Context, userID string, fields Fields) error {
	_, err := run(ctx, f, "put_account", userID, func(ctx context.Context, s Store) (struct{}, error) {
		return struct{}{}, s.PutAccount(ctx, userID, fields)
	})
	return err
}

func (f *Fallback) AddPosition(ctx context.Context, userID string, p *models.Position) (string, error) {
	return run(ctx, f, "add_position", userID, func(ctx context.Context, s Store) (string, error) {
		return s.AddPosition(ctx, userID, p)
	})
}

func (f *Fallback) ListOpenPositions(ctx context.Context, userID string) ([]*models.Position, error) {
	return run(ctx, f, "list_open_positions", userID, func(ctx context.Context, s Store) ([]*models.Position, error) {
		return s.ListOpenPositions(ctx, userID)
	})
}

func (f *Fallback) UpdatePosition(ctx context.Context, userID, positionID string, fields Fields) error {
	_, err := run(ctx, f, "update_position", userID, func(ctx context.Context, s Store) (struct{}, error) {
		return struct{}{}, s.UpdatePosition(ctx, userID, positionID, fields)
	})
	return err
}

func (f *Fallback) ClosePosition(ctx context.Context, userID, positionID string, st Settlement) error {
	_, err := run(ctx, f, "close_position", userID, func(ctx context.Context, s Store) (struct{}, error) {
		return struct{}{}, s.ClosePosition(ctx, userID, positionID, st)
	})
	return err
}

func (f *Fallback) AddHistory(ctx context.Context, userID string, h *models.HistoryEntry) (string, error) {
	return run(ctx, f, "add_history", userID, func(ctx context.Context, s Store) (string, error) {
		return s.AddHistory(ctx, userID, h)
	})
}

func (f *Fallback) ListHistory(ctx context.Context, userID string) ([]*models.HistoryEntry, error) {
	return run(ctx, f, "list_history", userID, func(ctx context.Context, s Store) ([]*models.HistoryEntry, error) {
		return s.ListHistory(ctx, userID)
	})
}
