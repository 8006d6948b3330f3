// Package mongo provides the server-side durable tier: a layout cache
// collection and an append-only change log collection. It mirrors the
// sqlite backend's contract for deployments where the engine runs as a
// long-lived service.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/saptak/screenshotnotes-sub005/pkg/changelog"
	"github.com/saptak/screenshotnotes-sub005/pkg/layoutcache"
	"github.com/saptak/screenshotnotes-sub005/pkg/mindmap"
)

const (
	cacheCollection = "layout_cache"
	logCollection   = "change_log"
)

// Store is a MongoDB-backed durable tier.
type Store struct {
	client *mongo.Client
	cache  *mongo.Collection
	log    *mongo.Collection
}

// Config configures the mongo backend.
type Config struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// cacheDoc is the stored form of a layout snapshot. Positions are kept
// as an array rather than a map because node ids are opaque strings and
// BSON restricts document key characters.
type cacheDoc struct {
	Fingerprint   string        `bson:"_id"`
	Positions     []positionDoc `bson:"positions"`
	Covered       []string      `bson:"covered"`
	SourceVersion uint64        `bson:"source_version"`
	SavedAt       time.Time     `bson:"saved_at"`
}

type positionDoc struct {
	NodeID string  `bson:"node_id"`
	X      float64 `bson:"x"`
	Y      float64 `bson:"y"`
}

// Connect opens a client, verifies the connection, and ensures indexes.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.URI, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &Store{
		client: client,
		cache:  db.Collection(cacheCollection),
		log:    db.Collection(logCollection),
	}

	// Coverage lookups and change replay both need an index.
	_, err = s.cache.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "covered", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ensure coverage index: %w", err)
	}
	_, err = s.log.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "version_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ensure log index: %w", err)
	}
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

// =============================================================================
// Layout Cache Collection
// =============================================================================

// Get returns the snapshot for the fingerprint.
func (s *Store) Get(ctx context.Context, fingerprint string) (layoutcache.Snapshot, bool, error) {
	var doc cacheDoc
	err := s.cache.FindOne(ctx, bson.M{"_id": fingerprint}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return layoutcache.Snapshot{}, false, nil
	}
	if err != nil {
		return layoutcache.Snapshot{}, false, fmt.Errorf("find layout_cache: %w", err)
	}

	snap := layoutcache.Snapshot{
		Fingerprint:   doc.Fingerprint,
		Positions:     make(map[string]mindmap.Position, len(doc.Positions)),
		SourceVersion: doc.SourceVersion,
		SavedAt:       doc.SavedAt,
	}
	for _, p := range doc.Positions {
		snap.Positions[p.NodeID] = mindmap.Position{X: p.X, Y: p.Y}
	}
	return snap, true, nil
}

// Put upserts the snapshot. A replace of a single document is atomic on
// the server, so readers see the old entry or the new one, never a mix.
func (s *Store) Put(ctx context.Context, snap layoutcache.Snapshot) error {
	doc := cacheDoc{
		Fingerprint:   snap.Fingerprint,
		Positions:     make([]positionDoc, 0, len(snap.Positions)),
		Covered:       snap.CoveredNodes(),
		SourceVersion: snap.SourceVersion,
		SavedAt:       snap.SavedAt.UTC(),
	}
	for id, p := range snap.Positions {
		doc.Positions = append(doc.Positions, positionDoc{NodeID: id, X: p.X, Y: p.Y})
	}

	_, err := s.cache.ReplaceOne(ctx, bson.M{"_id": snap.Fingerprint}, doc,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert layout_cache: %w", err)
	}
	return nil
}

// Invalidate removes every entry whose coverage intersects nodeIDs.
func (s *Store) Invalidate(ctx context.Context, nodeIDs []string) (int, error) {
	if len(nodeIDs) == 0 {
		return 0, nil
	}
	res, err := s.cache.DeleteMany(ctx, bson.M{"covered": bson.M{"$in": nodeIDs}})
	if err != nil {
		return 0, fmt.Errorf("delete layout_cache: %w", err)
	}
	return int(res.DeletedCount), nil
}

// Clear wipes the layout cache collection. The change log is untouched.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.cache.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("clear layout_cache: %w", err)
	}
	return nil
}

// =============================================================================
// Change Log Collection
// =============================================================================

// AppendChange inserts an accepted change record. The unique index on
// version_id rejects duplicates.
func (s *Store) AppendChange(ctx context.Context, rec changelog.Record) error {
	if _, err := s.log.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("insert change_log: %w", err)
	}
	return nil
}

// ChangesSince returns every persisted record with version id greater
// than version, in ascending order.
func (s *Store) ChangesSince(ctx context.Context, version uint64) ([]changelog.Record, error) {
	cur, err := s.log.Find(ctx,
		bson.M{"version_id": bson.M{"$gt": version}},
		options.Find().SetSort(bson.D{{Key: "version_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find change_log: %w", err)
	}
	defer cur.Close(ctx)

	var out []changelog.Record
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode change_log: %w", err)
	}
	return out, nil
}

// Ensure Store satisfies both durable contracts.
var (
	_ layoutcache.Store  = (*Store)(nil)
	_ changelog.Appender = (*Store)(nil)
)
