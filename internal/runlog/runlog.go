package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrNoRun is returned when nothing has been recorded for an owner and kind.
var ErrNoRun = errors.New("no recorded run")

// Kinds of run that are recorded.
const (
	KindCalendar = "calendar"
	KindMail     = "mail"
)

// Entry summarises one finished sync run.
type Entry struct {
	Owner      string    `json:"owner"`
	Kind       string    `json:"kind"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DryRun     bool      `json:"dry_run,omitempty"`
	Pushed     int       `json:"pushed"`
	Pulled     int       `json:"pulled"`
	Synced     int       `json:"synced"`
	Total      int       `json:"total"`
	Failed     int       `json:"failed"`
}

// Log keeps the latest Entry per owner and kind.
type Log interface {
	Record(ctx context.Context, e Entry) error
	Last(ctx context.Context, owner, kind string) (*Entry, error)
}

// RedisLog stores entries as JSON values that expire after ttl.
type RedisLog struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLog(client *redis.Client, ttl time.Duration) *RedisLog {
	return &RedisLog{client: client, ttl: ttl}
}

func key(owner, kind string) string {
	return fmt.Sprintf("docketra:runlog:%s:%s", kind, owner)
}

func (l *RedisLog) Record(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode run entry: %w", err)
	}
	if err := l.client.Set(ctx, key(e.Owner, e.Kind), data, l.ttl).Err(); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

func (l *RedisLog) Last(ctx context.Context, owner, kind string) (*Entry, error) {
	data, err := l.client.Get(ctx, key(owner, kind)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoRun
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode run entry: %w", err)
	}
	return &e, nil
}

// MemoryLog is the in-process Log used when Redis is disabled.
type MemoryLog struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{entries: make(map[string]Entry)}
}

func (l *MemoryLog) Record(_ context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key(e.Owner, e.Kind)] = e
	return nil
}

func (l *MemoryLog) Last(_ context.Context, owner, kind string) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key(owner, kind)]
	if !ok {
		return nil, ErrNoRun
	}
	return &e, nil
}
