// Package resultlog keeps finished import results in Redis so they can be
// fetched later by import ID, and announces each one on a Pub/Sub channel.
//
// Keys are "<prefix>:import:<id>" and expire after the configured TTL.
// Events go to "<prefix>:imports".
package resultlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/sheetport/internal/config"
	"github.com/JonMunkholm/sheetport/internal/core"
)

// MaxErrors caps the row messages kept per entry.
const MaxErrors = 100

// ErrNotFound is returned by Get for unknown or expired imports.
var ErrNotFound = errors.New("import result not found")

// Entry is the stored form of an import result. Imported records are not
// kept; the store has them.
type Entry struct {
	ImportID     string        `json:"importId"`
	Entity       string        `json:"entity"`
	FileName     string        `json:"fileName,omitempty"`
	Actor        string        `json:"actor,omitempty"`
	TotalRows    int           `json:"totalRows"`
	SuccessCount int           `json:"successCount"`
	FailedCount  int           `json:"failedCount"`
	Created      int           `json:"created"`
	Updated      int           `json:"updated"`
	Skipped      int           `json:"skipped"`
	Rejected     int           `json:"rejected"`
	Errors       []string      `json:"errors"`
	Truncated    bool          `json:"truncated,omitempty"`
	Cancelled    bool          `json:"cancelled,omitempty"`
	StoppedEarly bool          `json:"stoppedEarly,omitempty"`
	StartedAt    time.Time     `json:"startedAt"`
	Duration     time.Duration `json:"duration"`
}

// NewEntry condenses res.
func NewEntry(res *core.ImportResult, actor string) Entry {
	e := Entry{
		ImportID:     res.ImportID,
		Entity:       res.Entity,
		FileName:     res.FileName,
		Actor:        actor,
		TotalRows:    res.TotalRows,
		SuccessCount: res.SuccessCount,
		FailedCount:  res.FailedCount,
		Created:      res.Created,
		Updated:      res.Updated,
		Skipped:      res.Skipped,
		Rejected:     res.Rejected,
		Errors:       res.Errors,
		Cancelled:    res.Cancelled,
		StoppedEarly: res.StoppedEarly,
		StartedAt:    res.StartedAt,
		Duration:     res.Duration,
	}
	if len(e.Errors) > MaxErrors {
		e.Errors = e.Errors[:MaxErrors]
		e.Truncated = true
	}
	if e.Errors == nil {
		e.Errors = []string{}
	}
	return e
}

// Event is published once per stored entry.
type Event struct {
	ImportID     string    `json:"importId"`
	Entity       string    `json:"entity"`
	SuccessCount int       `json:"successCount"`
	FailedCount  int       `json:"failedCount"`
	Cancelled    bool      `json:"cancelled,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Log stores entries in Redis.
type Log struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// New wraps an existing client. A zero ttl keeps entries forever.
func New(rdb *redis.Client, prefix string, ttl time.Duration) *Log {
	if prefix == "" {
		prefix = "sheetport"
	}
	return &Log{rdb: rdb, prefix: prefix, ttl: ttl, now: time.Now}
}

// Dial connects using cfg and checks the connection.
func Dial(ctx context.Context, cfg config.ResultLogConfig) (*Log, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "resultlog: ping %s", cfg.Addr)
	}
	return New(rdb, cfg.Prefix, cfg.TTL), nil
}

func (l *Log) key(importID string) string { return l.prefix + ":import:" + importID }

// Channel is the Pub/Sub channel events are published on.
func (l *Log) Channel() string { return l.prefix + ":imports" }

// Put stores e and publishes its event. Publishing is best-effort; a
// failed SET is returned.
func (l *Log) Put(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "resultlog: marshal")
	}
	if err := l.rdb.Set(ctx, l.key(e.ImportID), data, l.ttl).Err(); err != nil {
		return errors.Wrapf(err, "resultlog: set %s", e.ImportID)
	}

	ev, _ := json.Marshal(Event{
		ImportID:     e.ImportID,
		Entity:       e.Entity,
		SuccessCount: e.SuccessCount,
		FailedCount:  e.FailedCount,
		Cancelled:    e.Cancelled,
		Timestamp:    l.now().UTC(),
	})
	_ = l.rdb.Publish(ctx, l.Channel(), ev).Err()
	return nil
}

// Get loads the entry for importID.
func (l *Log) Get(ctx context.Context, importID string) (Entry, error) {
	data, err := l.rdb.Get(ctx, l.key(importID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, errors.Wrapf(ErrNotFound, "%s", importID)
	}
	if err != nil {
		return Entry{}, errors.Wrapf(err, "resultlog: get %s", importID)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, errors.Wrap(err, "resultlog: unmarshal")
	}
	return e, nil
}

// Subscribe delivers events until ctx is done. The channel is closed when
// the subscription ends.
func (l *Log) Subscribe(ctx context.Context) (<-chan Event, error) {
	sub := l.rdb.Subscribe(ctx, l.Channel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, errors.Wrap(err, "resultlog: subscribe")
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close releases the client.
func (l *Log) Close() error {
	return l.rdb.Close()
}
