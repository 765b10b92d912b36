// Package pg keeps the ledger documents in PostgreSQL JSONB columns.
package pg

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"paper_ledger/internal/models"
	"paper_ledger/internal/modules/ledger/service"
	"paper_ledger/pkg/db"
	"paper_ledger/pkg/id"
)

type Store struct {
	db   db.TxManager
	opts service.Options
}

var _ service.Store = (*Store)(nil)

func NewStore(tx db.TxManager, opts service.Options) *Store {
	return &Store{db: tx, opts: opts}
}

// Migrate creates the tables when they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.Conn().Exec(ctx, Schema)
	return errors.Wrap(err, "pg.Migrate")
}

func encode(fields service.Fields) ([]byte, error) {
	return sonic.Marshal(service.Normalize(fields))
}

func (s *Store) defaultAccount() ([]byte, error) {
	return encode(service.DefaultAccount(s.opts.Balance(), s.opts.Time()))
}

func (s *Store) GetAccount(ctx context.Context, userID string) (acct *models.Account, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.GetAccount: %w", err)
		}
	}()

	def, err := s.defaultAccount()
	if err != nil {
		return nil, err
	}

	var raw []byte
	err = s.db.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		if _, err := tx.Exec(ctxTx, qEnsureAccount, userID, def); err != nil {
			return err
		}
		return tx.QueryRow(ctxTx, qGetAccount, userID).Scan(&raw)
	})
	if err != nil {
		return nil, err
	}

	acct = &models.Account{}
	if err := sonic.Unmarshal(raw, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

func (s *Store) PutAccount(ctx context.Context, userID string, fields service.Fields) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.PutAccount: %w", err)
		}
	}()

	patch := service.Fields{}
	for k, v := range fields {
		patch[k] = v
	}
	patch[service.FieldUpdatedAt] = s.opts.Time()

	def, err := s.defaultAccount()
	if err != nil {
		return err
	}
	body, err := encode(patch)
	if err != nil {
		return err
	}
	_, err = s.db.Conn().Exec(ctx, qMergeAccount, userID, def, body)
	return err
}

func (s *Store) AddPosition(ctx context.Context, userID string, p *models.Position) (positionID string, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.AddPosition: %w", err)
		}
	}()

	now := s.opts.Time()
	positionID = id.At(now)
	doc, err := service.PositionDoc(p, userID, positionID, now)
	if err != nil {
		return "", err
	}
	body, err := encode(doc)
	if err != nil {
		return "", err
	}
	if _, err = s.db.Conn().Exec(ctx, qInsertPosition, positionID, userID, body); err != nil {
		return "", err
	}
	return positionID, nil
}

func (s *Store) ListOpenPositions(ctx context.Context, userID string) (out []*models.Position, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.ListOpenPositions: %w", err)
		}
	}()

	return listOpen(ctx, s.db.Conn(), userID)
}

func listOpen(ctx context.Context, q db.Transaction, userID string) ([]*models.Position, error) {
	rows, err := q.Query(ctx, qListOpen, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*models.Position, 0)
	for rows.Next() {
		var (
			key string
			raw []byte
		)
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		var p models.Position
		if err := sonic.Unmarshal(raw, &p); err != nil {
			return nil, errors.Wrapf(err, "position %s", key)
		}
		if p.PositionID == "" {
			p.PositionID = key
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePosition(ctx context.Context, userID, positionID string, fields service.Fields) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.UpdatePosition: %w", err)
		}
	}()

	patch := service.Fields{}
	for k, v := range fields {
		patch[k] = v
	}
	patch[service.FieldUpdatedAt] = s.opts.Time()

	body, err := encode(patch)
	if err != nil {
		return err
	}
	tag, err := s.db.Conn().Exec(ctx, qUpdateOpen, userID, positionID, body)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(service.ErrNotFound, "position %s", positionID)
	}
	return nil
}

// ClosePosition runs the transition, the history append and the account
// settlement in one transaction.
func (s *Store) ClosePosition(ctx context.Context, userID, positionID string, st service.Settlement) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.ClosePosition: %w", err)
		}
	}()

	now := s.opts.Time()
	def, err := s.defaultAccount()
	if err != nil {
		return err
	}

	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		var (
			key string
			raw []byte
		)
		err := tx.QueryRow(ctxTx, qSelectOpenForUpdate, userID, positionID).Scan(&key, &raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return errors.Wrapf(service.ErrNotFound, "position %s", positionID)
		}
		if err != nil {
			return err
		}

		var pos models.Position
		if err := sonic.Unmarshal(raw, &pos); err != nil {
			return errors.Wrapf(err, "position %s", key)
		}
		if pos.PositionID == "" {
			pos.PositionID = key
		}

		body, err := encode(service.CloseFields(st, now))
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctxTx, qMergePosition, key, body); err != nil {
			return err
		}

		historyID := id.At(now)
		entry := service.ClosedEntry(&pos, userID, pos.PositionID, st, now)
		hdoc, err := service.HistoryDoc(entry, userID, historyID, now)
		if err != nil {
			return err
		}
		if body, err = encode(hdoc); err != nil {
			return err
		}
		if _, err := tx.Exec(ctxTx, qInsertHistory, historyID, userID, now, body); err != nil {
			return err
		}

		if _, err := tx.Exec(ctxTx, qEnsureAccount, userID, def); err != nil {
			return err
		}
		if err := tx.QueryRow(ctxTx, qGetAccountForUpdate, userID).Scan(&raw); err != nil {
			return err
		}
		var acct models.Account
		if err := sonic.Unmarshal(raw, &acct); err != nil {
			return err
		}
		// the closed row is already out of the open set inside this transaction
		remaining, err := listOpen(ctxTx, tx, userID)
		if err != nil {
			return err
		}
		if body, err = encode(service.SettleAccount(&acct, remaining, st, now)); err != nil {
			return err
		}
		_, err = tx.Exec(ctxTx, qMergeAccount, userID, def, body)
		return err
	})
}

func (s *Store) AddHistory(ctx context.Context, userID string, h *models.HistoryEntry) (historyID string, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.AddHistory: %w", err)
		}
	}()

	now := s.opts.Time()
	historyID = id.At(now)
	doc, err := service.HistoryDoc(h, userID, historyID, now)
	if err != nil {
		return "", err
	}
	body, err := encode(doc)
	if err != nil {
		return "", err
	}
	if _, err = s.db.Conn().Exec(ctx, qInsertHistory, historyID, userID, now, body); err != nil {
		return "", err
	}
	return historyID, nil
}

func (s *Store) ListHistory(ctx context.Context, userID string) (out []*models.HistoryEntry, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.ListHistory: %w", err)
		}
	}()

	rows, err := s.db.Conn().Query(ctx, qListHistory, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out = make([]*models.HistoryEntry, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var h models.HistoryEntry
		if err := sonic.Unmarshal(raw, &h); err != nil {
			return nil, err
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}
