// ABOUTME: Write-ahead log of cloud writes that have not been confirmed yet.
// ABOUTME: Intents live in the device KV so they survive restarts and are replayed on sync.
package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harperreed/lifts/internal/models"
	"github.com/harperreed/lifts/internal/storage"
)

// Key is the KV key holding the pending intents.
const Key = "pending_cloud_writes"

// Op is the kind of cloud write an intent stands for.
type Op string

const (
	OpUpsert     Op = "upsert"
	OpSoftDelete Op = "soft_delete"
	OpDelete     Op = "delete"
)

// Intent is one pending cloud write.
type Intent struct {
	ID        string    `json:"id"`
	Op        Op        `json:"op"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"lastError,omitempty"`
}

// Log stores intents in a KV.
type Log struct {
	kv    storage.KV
	newID models.IDFactory
	now   func() time.Time
	mu    sync.Mutex
}

// New creates a Log over kv.
func New(kv storage.KV) *Log {
	return &Log{
		kv:    kv,
		newID: models.NewID,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (l *Log) WithClock(now func() time.Time) *Log {
	l.now = now
	return l
}

// Record appends an intent and returns it. A newer intent for the same
// session and op replaces the older one, keeping its attempt count.
func (l *Log) Record(op Op, sessionID, userID string) (Intent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	intents, err := l.load()
	if err != nil {
		return Intent{}, err
	}

	in := Intent{
		ID:        l.newID(),
		Op:        op,
		SessionID: sessionID,
		UserID:    userID,
		CreatedAt: l.now(),
	}

	kept := intents[:0]
	for _, old := range intents {
		if old.SessionID == sessionID && old.Op == op {
			in.Attempts = old.Attempts
			in.LastError = old.LastError
			continue
		}
		kept = append(kept, old)
	}
	kept = append(kept, in)

	if err := l.save(kept); err != nil {
		return Intent{}, fmt.Errorf("record intent: %w", err)
	}
	return in, nil
}

// Complete removes a confirmed intent. Unknown ids are ignored.
func (l *Log) Complete(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	intents, err := l.load()
	if err != nil {
		return err
	}
	kept := intents[:0]
	for _, in := range intents {
		if in.ID != id {
			kept = append(kept, in)
		}
	}
	if len(kept) == len(intents) {
		return nil
	}
	if err := l.save(kept); err != nil {
		return fmt.Errorf("complete intent: %w", err)
	}
	return nil
}

// Fail records a failed attempt on an intent.
func (l *Log) Fail(id string, cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	intents, err := l.load()
	if err != nil {
		return err
	}
	for i := range intents {
		if intents[i].ID == id {
			intents[i].Attempts++
			if cause != nil {
				intents[i].LastError = cause.Error()
			}
			if err := l.save(intents); err != nil {
				return fmt.Errorf("fail intent: %w", err)
			}
			return nil
		}
	}
	return nil
}

// Pending returns outstanding intents, oldest first.
func (l *Log) Pending() ([]Intent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	intents, err := l.load()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(intents, func(i, j int) bool {
		return intents[i].CreatedAt.Before(intents[j].CreatedAt)
	})
	return intents, nil
}

func (l *Log) load() ([]Intent, error) {
	raw, err := l.kv.Get(Key)
	if errors.Is(err, storage.ErrNotFound) {
		return []Intent{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read intents: %w", err)
	}
	var intents []Intent
	if err := json.Unmarshal(raw, &intents); err != nil {
		return nil, fmt.Errorf("decode intents: %w", err)
	}
	return intents, nil
}

func (l *Log) save(intents []Intent) error {
	if len(intents) == 0 {
		return l.kv.Delete(Key)
	}
	data, err := json.Marshal(intents)
	if err != nil {
		return fmt.Errorf("encode intents: %w", err)
	}
	return l.kv.Set(Key, data)
}
