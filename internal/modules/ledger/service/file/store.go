// Package file is the local JSON ledger: one snapshot file per user.
package file

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"paper_ledger/internal/models"
	"paper_ledger/internal/modules/ledger/service"
	"paper_ledger/pkg/id"
)

type Store struct {
	dir  string
	opts service.Options

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

var _ service.Store = (*Store)(nil)

func NewStore(dir string, opts service.Options) *Store {
	return &Store{
		dir:   dir,
		opts:  opts,
		users: make(map[string]*sync.Mutex),
	}
}

// ---- storage format ----

type snapshot struct {
	UpdatedAt time.Time                 `json:"updated_at"`
	Account   map[string]any            `json:"account,omitempty"`
	Positions map[string]map[string]any `json:"positions"` // physical id -> document
	History   []map[string]any          `json:"history"`
}

func (s *Store) path(userID string) string {
	return filepath.Join(s.dir, base64.RawURLEncoding.EncodeToString([]byte(userID))+".json")
}

func (s *Store) lock(userID string) func() {
	s.mu.Lock()
	m, ok := s.users[userID]
	if !ok {
		m = &sync.Mutex{}
		s.users[userID] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// load re-reads the file on every call so edits made by another process
// are picked up.
func (s *Store) load(userID string) (*snapshot, error) {
	snap := &snapshot{Positions: map[string]map[string]any{}}

	p := s.path(userID)
	b, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return snap, nil
		}
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	if err := sonic.Unmarshal(b, snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", p, err)
	}
	if snap.Positions == nil {
		snap.Positions = map[string]map[string]any{}
	}
	return snap, nil
}

func (s *Store) save(userID string, snap *snapshot) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	snap.UpdatedAt = s.opts.Time()

	b, err := sonic.ConfigStd.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	p := s.path(userID)
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (s *Store) accountLocked(userID string, snap *snapshot) (*models.Account, bool, error) {
	created := false
	if snap.Account == nil {
		snap.Account = service.Normalize(service.DefaultAccount(s.opts.Balance(), s.opts.Time()))
		created = true
	}
	var acct models.Account
	if err := service.Decode(snap.Account, &acct); err != nil {
		return nil, false, fmt.Errorf("account %s: %w", userID, err)
	}
	return &acct, created, nil
}

// find resolves id as the physical key first, then as the logical position_id.
func find(snap *snapshot, positionID string) (string, map[string]any) {
	if doc, ok := snap.Positions[positionID]; ok {
		return positionID, doc
	}
	for key, doc := range snap.Positions {
		if v, _ := doc[service.FieldPositionID].(string); v == positionID {
			return key, doc
		}
	}
	return "", nil
}

func isOpen(doc map[string]any) bool {
	closed, _ := doc[service.FieldClosed].(bool)
	return !closed
}

func merge(dst map[string]any, fields service.Fields) {
	for k, v := range service.Normalize(fields) {
		dst[k] = v
	}
}

// ---- service.Store ----

func (s *Store) GetAccount(ctx context.Context, userID string) (*models.Account, error) {
	defer s.lock(userID)()

	snap, err := s.load(userID)
	if err != nil {
		return nil, err
	}
	acct, created, err := s.accountLocked(userID, snap)
	if err != nil {
		return nil, err
	}
	if created {
		if err := s.save(userID, snap); err != nil {
			return nil, err
		}
	}
	return acct, nil
}

func (s *Store) PutAccount(ctx context.Context, userID string, fields service.Fields) error {
	defer s.lock(userID)()

	snap, err := s.load(userID)
	if err != nil {
		return err
	}
	if _, _, err := s.accountLocked(userID, snap); err != nil {
		return err
	}
	merge(snap.Account, fields)
	snap.Account[service.FieldUpdatedAt] = s.opts.Time().Format(time.RFC3339Nano)
	return s.save(userID, snap)
}

func (s *Store) AddPosition(ctx context.Context, userID string, p *models.Position) (string, error) {
	defer s.lock(userID)()

	snap, err := s.load(userID)
	if err != nil {
		return "", err
	}

	now := s.opts.Time()
	positionID := id.At(now)
	doc, err := service.PositionDoc(p, userID, positionID, now)
	if err != nil {
		return "", err
	}
	snap.Positions[positionID] = service.Normalize(doc)

	if err := s.save(userID, snap); err != nil {
		return "", err
	}
	return positionID, nil
}

func (s *Store) ListOpenPositions(ctx context.Context, userID string) ([]*models.Position, error) {
	defer s.lock(userID)()

	snap, err := s.load(userID)
	if err != nil {
		return nil, err
	}
	return openPositions(snap)
}

// openPositions decodes the open positions of snap, oldest first.
func openPositions(snap *snapshot) ([]*models.Position, error) {
	out := make([]*models.Position, 0, len(snap.Positions))
	for key, doc := range snap.Positions {
		if !isOpen(doc) {
			continue
		}
		var p models.Position
		if err := service.Decode(doc, &p); err != nil {
			return nil, fmt.Errorf("position %s: %w", key, err)
		}
		if p.PositionID == "" {
			p.PositionID = key
		}
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].PositionID < out[j].PositionID
	})
	return out, nil
}

func (s *Store) UpdatePosition(ctx context.Context, userID, positionID string, fields service.Fields) error {
	defer s.lock(userID)()

	snap, err := s.load(userID)
	if err != nil {
		return err
	}
	_, doc := find(snap, positionID)
	if doc == nil || !isOpen(doc) {
		return fmt.Errorf("position %s: %w", positionID, service.ErrNotFound)
	}

	merge(doc, fields)
	doc[service.FieldUpdatedAt] = s.opts.Time().Format(time.RFC3339Nano)
	return s.save(userID, snap)
}

// ClosePosition applies the three steps to the in-memory snapshot and writes
// it once, so a crash leaves either all of them or none on disk.
func (s *Store) ClosePosition(ctx context.Context, userID, positionID string, st service.Settlement) error {
	defer s.lock(userID)()

	snap, err := s.load(userID)
	if err != nil {
		return err
	}
	key, doc := find(snap, positionID)
	if doc == nil || !isOpen(doc) {
		return fmt.Errorf("position %s: %w", positionID, service.ErrNotFound)
	}

	var pos models.Position
	if err := service.Decode(doc, &pos); err != nil {
		return fmt.Errorf("position %s: %w", key, err)
	}
	if pos.PositionID == "" {
		pos.PositionID = key
	}
	acct, _, err := s.accountLocked(userID, snap)
	if err != nil {
		return err
	}

	now := s.opts.Time()
	merge(doc, service.CloseFields(st, now))

	entry := service.ClosedEntry(&pos, userID, pos.PositionID, st, now)
	hdoc, err := service.HistoryDoc(entry, userID, id.At(now), now)
	if err != nil {
		return err
	}
	snap.History = append(snap.History, service.Normalize(hdoc))

	remaining, err := openPositions(snap)
	if err != nil {
		return err
	}
	merge(snap.Account, service.SettleAccount(acct, remaining, st, now))

	return s.save(userID, snap)
}

func (s *Store) AddHistory(ctx context.Context, userID string, h *models.HistoryEntry) (string, error) {
	defer s.lock(userID)()

	snap, err := s.load(userID)
	if err != nil {
		return "", err
	}

	now := s.opts.Time()
	historyID := id.At(now)
	doc, err := service.HistoryDoc(h, userID, historyID, now)
	if err != nil {
		return "", err
	}
	snap.History = append(snap.History, service.Normalize(doc))

	if err := s.save(userID, snap); err != nil {
		return "", err
	}
	return historyID, nil
}

func (s *Store) ListHistory(ctx context.Context, userID string) ([]*models.HistoryEntry, error) {
	defer s.lock(userID)()

	snap, err := s.load(userID)
	if err != nil {
		return nil, err
	}

	// walk backwards so entries sharing a timestamp keep the later append first
	out := make([]*models.HistoryEntry, 0, len(snap.History))
	for i := len(snap.History) - 1; i >= 0; i-- {
		var h models.HistoryEntry
		if err := service.Decode(snap.History[i], &h); err != nil {
			return nil, fmt.Errorf("history %d: %w", i, err)
		}
		out = append(out, &h)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
