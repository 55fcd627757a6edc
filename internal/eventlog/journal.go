// Package eventlog persists model lifecycle events to SQLite so recent
// loads, unloads and failures survive restarts and can be queried.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"speechd/internal/manager"
	"speechd/pkg/types"
)

// Defaults applied when Options fields are unset.
const (
	defaultBuffer = 256
	defaultRetain = 10000
)

// Options configures a Journal.
type Options struct {
	// Buffer is the number of events queued before Publish starts dropping.
	Buffer int
	// Retain is the number of most recent rows kept.
	Retain int
	Logger zerolog.Logger
}

type record struct {
	ev  manager.Event
	at  time.Time
	ack chan struct{}
}

// Journal is a manager.EventPublisher writing to SQLite on a background
// goroutine. Publish never blocks; events are dropped when the queue is full.
type Journal struct {
	db      *sql.DB
	log     zerolog.Logger
	retain  int
	ch      chan record
	done    chan struct{}
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

var _ manager.EventPublisher = (*Journal)(nil)

// Open opens (or creates) the journal database at path.
func Open(path string, opts Options) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.Retain <= 0 {
		opts.Retain = defaultRetain
	}
	j := &Journal{
		db:     db,
		log:    opts.Logger.With().Str("component", "eventlog").Logger(),
		retain: opts.Retain,
		ch:     make(chan record, opts.Buffer),
		done:   make(chan struct{}),
	}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	go j.run()
	return j, nil
}

func (j *Journal) migrate() error {
	_, err := j.db.Exec(`
CREATE TABLE IF NOT EXISTS events (
  id TEXT PRIMARY KEY,
  ts INTEGER NOT NULL,
  family TEXT NOT NULL DEFAULT '',
  name TEXT NOT NULL,
  model_id TEXT NOT NULL DEFAULT '',
  fields TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS events_ts ON events(ts);
`)
	if err != nil {
		return fmt.Errorf("migrate journal: %w", err)
	}
	return nil
}

// Publish queues e for writing.
func (j *Journal) Publish(e manager.Event) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.ch <- record{ev: e, at: time.Now()}:
	default:
		if j.dropped.Add(1)%100 == 1 {
			j.log.Warn().Uint64("dropped", j.dropped.Load()).Msg("event journal full, dropping events")
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Sync blocks until every event published before the call is written.
func (j *Journal) Sync(ctx context.Context) error {
	ack := make(chan struct{})
	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return errors.New("eventlog: closed")
	}
	select {
	case j.ch <- record{ack: ack}:
		j.mu.RUnlock()
	case <-ctx.Done():
		j.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Journal) run() {
	defer close(j.done)
	var n int
	for r := range j.ch {
		if r.ack != nil {
			close(r.ack)
			continue
		}
		if err := j.insert(r); err != nil {
			j.log.Error().Err(err).Str("event", r.ev.Name).Msg("write event")
			continue
		}
		if n++; n%100 == 0 {
			j.prune()
		}
	}
}

func (j *Journal) insert(r record) error {
	fields := r.ev.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	_, err = j.db.Exec(`INSERT INTO events(id, ts, family, name, model_id, fields) VALUES(?, ?, ?, ?, ?, ?);`,
		xid.NewWithTime(r.at).String(), r.at.UnixNano(), r.ev.Family, r.ev.Name, r.ev.ModelID, string(b))
	return err
}

func (j *Journal) prune() {
	_, err := j.db.Exec(`DELETE FROM events WHERE rowid <= (SELECT MAX(rowid) - ? FROM events);`, j.retain)
	if err != nil {
		j.log.Warn().Err(err).Msg("prune journal")
	}
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]types.EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, ts, family, name, model_id, fields FROM events
ORDER BY ts DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	out := []types.EventRecord{}
	for rows.Next() {
		var (
			rec    types.EventRecord
			ts     int64
			fields string
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.Family, &rec.Name, &rec.ModelID, &fields); err != nil {
			return nil, err
		}
		rec.TimeUnix = time.Unix(0, ts).Unix()
		if fields != "" && fields != "{}" {
			if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
				return nil, fmt.Errorf("decode fields: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close stops accepting events, writes what is queued and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.ch)
	j.mu.Unlock()
	<-j.done
	return j.db.Close()
}
