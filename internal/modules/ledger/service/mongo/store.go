// Package mongo keeps the ledger documents in MongoDB collections.
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"paper_ledger/internal/models"
	"paper_ledger/internal/modules/ledger/service"
	"paper_ledger/pkg/id"
)

const (
	accountsCollection  = "virtual_accounts"
	positionsCollection = "virtual_positions"
	historyCollection   = "trading_history"
)

type Store struct {
	accounts  *mongo.Collection
	positions *mongo.Collection
	history   *mongo.Collection
	opts      service.Options
}

var _ service.Store = (*Store)(nil)

// Connect dials uri and checks the primary answers.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "mongo.Connect")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "mongo.Ping")
	}
	return client, nil
}

func NewStore(db *mongo.Database, opts service.Options) *Store {
	return &Store{
		accounts:  db.Collection(accountsCollection),
		positions: db.Collection(positionsCollection),
		history:   db.Collection(historyCollection),
		opts:      opts,
	}
}

// EnsureIndexes creates the lookup indexes the queries rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.positions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: service.FieldUserID, Value: 1}, {Key: service.FieldPositionID, Value: 1}}},
	})
	if err != nil {
		return errors.Wrap(err, "mongo.EnsureIndexes positions")
	}
	_, err = s.history.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: service.FieldUserID, Value: 1}, {Key: "_id", Value: -1}},
	})
	return errors.Wrap(err, "mongo.EnsureIndexes history")
}

func toBSON(fields service.Fields) bson.M {
	return bson.M(service.Normalize(fields))
}

var openOnly = bson.M{"$ne": true}

// candidates lists the filters that may address positionID, physical id first.
func candidates(userID, positionID string) []bson.M {
	out := make([]bson.M, 0, 2)
	if oid, err := primitive.ObjectIDFromHex(positionID); err == nil {
		out = append(out, bson.M{"_id": oid, service.FieldUserID: userID, service.FieldClosed: openOnly})
	}
	return append(out, bson.M{service.FieldPositionID: positionID, service.FieldUserID: userID, service.FieldClosed: openOnly})
}

func (s *Store) defaultAccount(skip service.Fields) bson.M {
	def := toBSON(service.DefaultAccount(s.opts.Balance(), s.opts.Time()))
	for k := range skip {
		delete(def, k)
	}
	return def
}

func (s *Store) GetAccount(ctx context.Context, userID string) (acct *models.Account, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("mongo.GetAccount: %w", err)
		}
	}()

	_, err = s.accounts.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$setOnInsert": s.defaultAccount(nil)},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return nil, err
	}

	var raw bson.M
	if err = s.accounts.FindOne(ctx, bson.M{"_id": userID}).Decode(&raw); err != nil {
		return nil, err
	}
	acct = &models.Account{}
	return acct, decode(raw, acct)
}

func (s *Store) PutAccount(ctx context.Context, userID string, fields service.Fields) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("mongo.PutAccount: %w", err)
		}
	}()

	patch := service.Fields{}
	for k, v := range fields {
		patch[k] = v
	}
	patch[service.FieldUpdatedAt] = s.opts.Time()

	_, err = s.accounts.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": toBSON(patch), "$setOnInsert": s.defaultAccount(patch)},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *Store) AddPosition(ctx context.Context, userID string, p *models.Position) (positionID string, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("mongo.AddPosition: %w", err)
		}
	}()

	now := s.opts.Time()
	positionID = id.At(now)
	doc, err := service.PositionDoc(p, userID, positionID, now)
	if err != nil {
		return "", err
	}
	if _, err = s.positions.InsertOne(ctx, toBSON(doc)); err != nil {
		return "", err
	}
	return positionID, nil
}

func (s *Store) ListOpenPositions(ctx context.Context, userID string) (out []*models.Position, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("mongo.ListOpenPositions: %w", err)
		}
	}()

	cur, err := s.positions.Find(ctx,
		bson.M{service.FieldUserID: userID, service.FieldClosed: openOnly},
		options.Find().SetSort(bson.D{{Key: service.FieldPositionID, Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out = make([]*models.Position, 0)
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, err
		}
		var p models.Position
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		if p.PositionID == "" {
			if oid, ok := raw["_id"].(primitive.ObjectID); ok {
				p.PositionID = oid.Hex()
			}
		}
		out = append(out, &p)
	}
	return out, cur.Err()
}

func (s *Store) UpdatePosition(ctx context.Context, userID, positionID string, fields service.Fields) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("mongo.UpdatePosition: %w", err)
		}
	}()

	patch := service.Fields{}
	for k, v := range fields {
		patch[k] = v
	}
	patch[service.FieldUpdatedAt] = s.opts.Time()

	for _, filter := range candidates(userID, positionID) {
		res, err := s.positions.UpdateOne(ctx, filter, bson.M{"$set": toBSON(patch)})
		if err != nil {
			return err
		}
		if res.MatchedCount > 0 {
			return nil
		}
	}
	return errors.Wrapf(service.ErrNotFound, "position %s", positionID)
}

// ClosePosition has no multi-document transaction to lean on: the
// conditional update on closed makes the first step the only one that can
// race, and the later steps only run after it wins.
func (s *Store) ClosePosition(ctx context.Context, userID, positionID string, st service.Settlement) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("mongo.ClosePosition: %w", err)
		}
	}()

	now := s.opts.Time()
	set := bson.M{"$set": toBSON(service.CloseFields(st, now))}
	before := options.FindOneAndUpdate().SetReturnDocument(options.Before)

	var raw bson.M
	for _, filter := range candidates(userID, positionID) {
		err = s.positions.FindOneAndUpdate(ctx, filter, set, before).Decode(&raw)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			return err
		}
		break
	}
	if raw == nil {
		return errors.Wrapf(service.ErrNotFound, "position %s", positionID)
	}

	var pos models.Position
	if err := decode(raw, &pos); err != nil {
		return err
	}
	if pos.PositionID == "" {
		pos.PositionID = positionID
	}

	historyID := id.At(now)
	entry := service.ClosedEntry(&pos, userID, pos.PositionID, st, now)
	hdoc, err := service.HistoryDoc(entry, userID, historyID, now)
	if err != nil {
		return err
	}
	hb := toBSON(hdoc)
	hb["_id"] = historyID
	if _, err := s.history.InsertOne(ctx, hb); err != nil {
		return fmt.Errorf("%w: position %s: append history: %w", service.ErrPartialClose, positionID, err)
	}

	acct, err := s.GetAccount(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: position %s: settle account: %w", service.ErrPartialClose, positionID, err)
	}
	remaining, err := s.ListOpenPositions(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: position %s: settle account: %w", service.ErrPartialClose, positionID, err)
	}
	_, err = s.accounts.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": toBSON(service.SettleAccount(acct, remaining, st, now))},
	)
	if err != nil {
		return fmt.Errorf("%w: position %s: settle account: %w", service.ErrPartialClose, positionID, err)
	}
	return nil
}

func (s *Store) AddHistory(ctx context.Context, userID string, h *models.HistoryEntry) (historyID string, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("mongo.AddHistory: %w", err)
		}
	}()

	now := s.opts.Time()
	historyID = id.At(now)
	doc, err := service.HistoryDoc(h, userID, historyID, now)
	if err != nil {
		return "", err
	}
	b := toBSON(doc)
	b["_id"] = historyID
	if _, err = s.history.InsertOne(ctx, b); err != nil {
		return "", err
	}
	return historyID, nil
}

// ListHistory sorts on _id: history ids are ULIDs and order by creation time.
func (s *Store) ListHistory(ctx context.Context, userID string) (out []*models.HistoryEntry, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("mongo.ListHistory: %w", err)
		}
	}()

	cur, err := s.history.Find(ctx,
		bson.M{service.FieldUserID: userID},
		options.Find().SetSort(bson.D{{Key: "_id", Value: -1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out = make([]*models.HistoryEntry, 0)
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, err
		}
		var h models.HistoryEntry
		if err := decode(raw, &h); err != nil {
			return nil, err
		}
		out = append(out, &h)
	}
	return out, cur.Err()
}

// decode turns a driver document into a plain one before it reaches the model.
func decode(raw bson.M, out any) error {
	return service.Decode(plain(raw).(map[string]any), out)
}

func plain(v any) any {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC().Format(time.RFC3339Nano)
	case primitive.Decimal128:
		return t.String()
	case bson.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = plain(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = plain(e)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = plain(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i := range t {
			out[i] = plain(t[i])
		}
		return out
	}
	return v
}
