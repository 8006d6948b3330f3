// Package changelog provides the append-only, versioned log of
// structural changes to the mind map, and the conflict-priority
// ordering used to arbitrate between concurrent producers.
//
// Every accepted mutation is recorded as a [Record] with a totally
// ordered version id. The in-memory log is the source of truth for
// ChangesSince queries; an optional [Appender] mirrors records to a
// durable store (sqlite for the CLI, mongo for a service deployment).
// Durable append failures degrade to in-memory-only operation with a
// warning rather than failing the change.
package changelog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Record is one entry in the append-only change log.
type Record struct {
	VersionID uint64     `json:"version_id" bson:"version_id"`
	RecordID  string     `json:"record_id" bson:"record_id"`
	Timestamp time.Time  `json:"timestamp" bson:"timestamp"`
	Type      ChangeType `json:"type" bson:"type"`
	Origin    Origin     `json:"origin" bson:"origin"`
	NodeIDs   []string   `json:"node_ids" bson:"node_ids"`
	Checksum  string     `json:"checksum" bson:"checksum"`
}

// Appender mirrors accepted records to a durable change_log table.
type Appender interface {
	AppendChange(ctx context.Context, rec Record) error
}

// Reader loads previously mirrored records from a durable store.
type Reader interface {
	ChangesSince(ctx context.Context, version uint64) ([]Record, error)
}

// Tracker is the append-only change log. Records are totally ordered by
// VersionID, assigned at record time under the tracker's lock.
//
// The zero value is not usable; construct with NewTracker.
type Tracker struct {
	mu       sync.RWMutex
	records  []Record
	next     uint64
	appender Appender
	logger   *log.Logger
}

// NewTracker creates a change tracker. appender may be nil (in-memory
// only); logger may be nil (a default logger is used).
func NewTracker(appender Appender, logger *log.Logger) *Tracker {
	if logger == nil {
		logger = log.Default()
	}
	return &Tracker{
		next:     1,
		appender: appender,
		logger:   logger,
	}
}

// Load seeds the in-memory log with records replayed from a durable
// store and advances version assignment past them. Records must be in
// ascending version order. Call before the first Record.
func (t *Tracker) Load(records []Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, records...)
	if n := len(t.records); n > 0 && t.records[n-1].VersionID >= t.next {
		t.next = t.records[n-1].VersionID + 1
	}
}

// Record appends a change to the log, assigning the next version id and
// a unique record id. The affected node-id set is copied and sorted.
// Returns the completed record.
func (t *Tracker) Record(ctx context.Context, typ ChangeType, origin Origin, nodeIDs []string, checksum string) Record {
	ids := make([]string, len(nodeIDs))
	copy(ids, nodeIDs)
	sort.Strings(ids)

	t.mu.Lock()
	rec := Record{
		VersionID: t.next,
		RecordID:  uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      typ,
		Origin:    origin,
		NodeIDs:   ids,
		Checksum:  checksum,
	}
	t.next++
	t.records = append(t.records, rec)
	t.mu.Unlock()

	if t.appender != nil {
		if err := t.appender.AppendChange(ctx, rec); err != nil {
			// The in-memory log already holds the record; durable
			// mirroring is best-effort.
			t.logger.Warn("durable change append failed",
				"version", rec.VersionID, "type", rec.Type, "err", err)
		}
	}
	return rec
}

// ChangesSince returns every record with VersionID > version, in
// ascending version order.
func (t *Tracker) ChangesSince(version uint64) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	// Records are appended in version order; binary search the cutoff.
	i := sort.Search(len(t.records), func(i int) bool {
		return t.records[i].VersionID > version
	})
	out := make([]Record, len(t.records)-i)
	copy(out, t.records[i:])
	return out
}

// LatestVersion returns the highest assigned version id, or 0 if the
// log is empty.
func (t *Tracker) LatestVersion() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.records) == 0 {
		return 0
	}
	return t.records[len(t.records)-1].VersionID
}

// Len returns the number of recorded changes.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}
