// Package store persists transactions, contributor ledgers and computed
// metrics snapshots in MongoDB. Every document carries an expiresAt
// timestamp enforced both by a Mongo TTL index (background reaping) and
// by an explicit freshness check on the read path, so readers never
// trust a document the reaper has not gotten to yet.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/alien88ted/presale-monitor/service/cache"
	"github.com/alien88ted/presale-monitor/service/metrics"
	"github.com/alien88ted/presale-monitor/service/presale"
)

// ErrNotFound is returned when a document does not exist or has expired.
var ErrNotFound = errors.New("document not found")

const (
	collTransactions    = "transactions"
	collContributors    = "contributors"
	collMetrics         = "metrics"
	collWalletSnapshots = "wallet_snapshots"
)

// Store is a MongoDB-backed persistent cache tier.
type Store struct {
	client  *mongo.Client
	db      *mongo.Database
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics injects the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New connects to MongoDB and returns a Store. The caller should call
// EnsureIndexes once at startup and Close at shutdown.
func New(ctx context.Context, uri, dbName string, logger *slog.Logger, opts ...Option) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo at %s: %w", uri, err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	s := &Store{
		client: client,
		db:     client.Database(dbName),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects from MongoDB.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the TTL and query indexes. Idempotent.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	// expireAfterSeconds of 0 means "expire at the time in expiresAt".
	ttlIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}

	indexes := map[string][]mongo.IndexModel{
		collTransactions: {
			ttlIndex,
			{Keys: bson.D{{Key: "value.blockTime", Value: -1}}},
			{Keys: bson.D{{Key: "value.from", Value: 1}}},
		},
		collContributors: {
			ttlIndex,
			{Keys: bson.D{{Key: "value.totalUsd", Value: -1}}},
		},
		collMetrics: {
			ttlIndex,
		},
		collWalletSnapshots: {
			{Keys: bson.D{
				{Key: "wallet", Value: 1},
				{Key: "timestamp", Value: -1},
			}},
		},
	}

	for coll, models := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// envelope wraps a stored value with cache bookkeeping, mirroring the
// in-process tier's entry shape.
type envelope[V any] struct {
	Key          string    `bson:"_id"`
	Value        V         `bson:"value"`
	CreatedAt    time.Time `bson:"createdAt"`
	ExpiresAt    time.Time `bson:"expiresAt,omitempty"`
	AccessCount  int64     `bson:"accessCount"`
	LastAccessed time.Time `bson:"lastAccessed"`
}

func newEnvelope[V any](key string, value V, ttl time.Duration, now time.Time) envelope[V] {
	e := envelope[V]{
		Key:          key,
		Value:        value,
		CreatedAt:    now,
		AccessCount:  0,
		LastAccessed: now,
	}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl)
	}
	return e
}

func (s *Store) observe(op, coll string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordStoreOperation(op, coll, time.Since(start).Seconds(), err)
	}
}

// UpsertTransactions writes a batch of classified transactions keyed by
// signature. Re-writing an existing signature refreshes its TTL, which
// is fine because classification is deterministic.
func (s *Store) UpsertTransactions(ctx context.Context, txs []presale.Transaction, ttl time.Duration) error {
	if len(txs) == 0 {
		return nil
	}
	start := time.Now()

	models := make([]mongo.WriteModel, 0, len(txs))
	for _, tx := range txs {
		doc := newEnvelope(tx.Signature, tx, ttl, start)
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": tx.Signature}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	_, err := s.db.Collection(collTransactions).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	s.observe("bulk_upsert", collTransactions, start, err)
	if err != nil {
		return fmt.Errorf("failed to upsert %d transactions: %w", len(txs), err)
	}
	return nil
}

// GetTransaction fetches a classified transaction by signature.
// Returns ErrNotFound for missing or expired documents.
func (s *Store) GetTransaction(ctx context.Context, signature string) (*presale.Transaction, error) {
	start := time.Now()

	var doc envelope[presale.Transaction]
	err := s.db.Collection(collTransactions).FindOne(ctx, bson.M{"_id": signature}).Decode(&doc)
	s.observe("get", collTransactions, start, err)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", signature, err)
	}
	// The TTL reaper runs roughly once a minute; do not serve documents
	// it has not collected yet.
	if cache.Expired(doc.ExpiresAt, time.Now()) {
		return nil, ErrNotFound
	}
	s.touch(ctx, collTransactions, signature)
	return &doc.Value, nil
}

// ListTransactions returns stored transactions newest first, optionally
// only those strictly older than before.
func (s *Store) ListTransactions(ctx context.Context, limit int, before time.Time) ([]presale.Transaction, error) {
	start := time.Now()
	if limit <= 0 {
		limit = 100
	}

	filter := bson.M{}
	if !before.IsZero() {
		filter["value.blockTime"] = bson.M{"$lt": before}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "value.blockTime", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := s.db.Collection(collTransactions).Find(ctx, filter, opts)
	s.observe("list", collTransactions, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer cur.Close(ctx)

	now := time.Now()
	var out []presale.Transaction
	for cur.Next(ctx) {
		var doc envelope[presale.Transaction]
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode transaction: %w", err)
		}
		if cache.Expired(doc.ExpiresAt, now) {
			continue
		}
		out = append(out, doc.Value)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("transaction cursor error: %w", err)
	}
	return out, nil
}

// SaveMetrics persists a computed metrics snapshot for a wallet.
func (s *Store) SaveMetrics(ctx context.Context, wallet string, m *presale.Metrics, ttl time.Duration) error {
	start := time.Now()

	doc := newEnvelope(wallet, m, ttl, start)
	_, err := s.db.Collection(collMetrics).ReplaceOne(ctx,
		bson.M{"_id": wallet}, doc, options.Replace().SetUpsert(true))
	s.observe("save", collMetrics, start, err)
	if err != nil {
		return fmt.Errorf("failed to save metrics for %s: %w", wallet, err)
	}
	return nil
}

// GetMetrics fetches the persisted metrics snapshot for a wallet. The
// second return reports freshness: an expired-but-present snapshot is
// returned with fresh=false so callers can serve stale data when every
// upstream is down.
func (s *Store) GetMetrics(ctx context.Context, wallet string) (*presale.Metrics, bool, error) {
	start := time.Now()

	var doc envelope[*presale.Metrics]
	err := s.db.Collection(collMetrics).FindOne(ctx, bson.M{"_id": wallet}).Decode(&doc)
	s.observe("get", collMetrics, start, err)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get metrics for %s: %w", wallet, err)
	}

	fresh := !cache.Expired(doc.ExpiresAt, time.Now())
	if fresh {
		s.touch(ctx, collMetrics, wallet)
	}
	return doc.Value, fresh, nil
}

// UpsertContributors replaces the contributor ledger entries.
func (s *Store) UpsertContributors(ctx context.Context, contributors []presale.Contributor, ttl time.Duration) error {
	if len(contributors) == 0 {
		return nil
	}
	start := time.Now()

	models := make([]mongo.WriteModel, 0, len(contributors))
	for _, c := range contributors {
		doc := newEnvelope(c.Address, c, ttl, start)
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": c.Address}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	_, err := s.db.Collection(collContributors).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	s.observe("bulk_upsert", collContributors, start, err)
	if err != nil {
		return fmt.Errorf("failed to upsert %d contributors: %w", len(contributors), err)
	}
	return nil
}

// TopContributors returns contributors with at least minUSD total,
// largest first.
func (s *Store) TopContributors(ctx context.Context, minUSD float64, limit int) ([]presale.Contributor, error) {
	start := time.Now()
	if limit <= 0 {
		limit = 50
	}

	filter := bson.M{"value.totalUsd": bson.M{"$gte": minUSD}}
	opts := options.Find().
		SetSort(bson.D{
			{Key: "value.totalUsd", Value: -1},
			{Key: "_id", Value: 1},
		}).
		SetLimit(int64(limit))

	cur, err := s.db.Collection(collContributors).Find(ctx, filter, opts)
	s.observe("list", collContributors, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list contributors: %w", err)
	}
	defer cur.Close(ctx)

	now := time.Now()
	var out []presale.Contributor
	for cur.Next(ctx) {
		var doc envelope[presale.Contributor]
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode contributor: %w", err)
		}
		if cache.Expired(doc.ExpiresAt, now) {
			continue
		}
		out = append(out, doc.Value)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("contributor cursor error: %w", err)
	}
	return out, nil
}

// AppendWalletSnapshot records a point-in-time balance observation.
// Snapshots are append-only and never expire.
func (s *Store) AppendWalletSnapshot(ctx context.Context, snap presale.WalletSnapshot) error {
	start := time.Now()
	_, err := s.db.Collection(collWalletSnapshots).InsertOne(ctx, snap)
	s.observe("insert", collWalletSnapshots, start, err)
	if err != nil {
		return fmt.Errorf("failed to append wallet snapshot: %w", err)
	}
	return nil
}

// LatestWalletSnapshot returns the newest snapshot for a wallet.
func (s *Store) LatestWalletSnapshot(ctx context.Context, wallet string) (*presale.WalletSnapshot, error) {
	start := time.Now()

	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	var snap presale.WalletSnapshot
	err := s.db.Collection(collWalletSnapshots).FindOne(ctx, bson.M{"wallet": wallet}, opts).Decode(&snap)
	s.observe("get", collWalletSnapshots, start, err)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot for %s: %w", wallet, err)
	}
	return &snap, nil
}

// touch bumps access bookkeeping without blocking the read path on the
// write's outcome.
func (s *Store) touch(ctx context.Context, coll, key string) {
	_, err := s.db.Collection(coll).UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{
			"$inc": bson.M{"accessCount": 1},
			"$set": bson.M{"lastAccessed": time.Now()},
		})
	if err != nil {
		s.logger.Debug("failed to update access bookkeeping", "collection", coll, "key", key, "error", err)
	}
}
