package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// ErrNotJournaled is returned by Journal.Load for a step that has not completed.
var ErrNotJournaled = errors.New("step not journaled")

// Journal records the output of completed steps, keyed by run id and step name.
type Journal interface {
	// Load returns the recorded output or ErrNotJournaled.
	Load(ctx context.Context, runID, step string) ([]byte, error)

	// Save records the output of a completed step.
	Save(ctx context.Context, runID, step string, output []byte) error

	// Forget drops every recorded step of a run.
	Forget(ctx context.Context, runID string) error

	Close() error
}

// MemoryJournal keeps step outputs for the lifetime of the process.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryJournal creates an empty in-process journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{entries: make(map[string][]byte)}
}

func memoryKey(runID, step string) string {
	return runID + "\x00" + step
}

// Load implements Journal.
func (j *MemoryJournal) Load(_ context.Context, runID, step string) ([]byte, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	output, ok := j.entries[memoryKey(runID, step)]
	if !ok {
		return nil, ErrNotJournaled
	}
	return output, nil
}

// Save implements Journal.
func (j *MemoryJournal) Save(_ context.Context, runID, step string, output []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries[memoryKey(runID, step)] = append([]byte(nil), output...)
	return nil
}

// Forget implements Journal.
func (j *MemoryJournal) Forget(_ context.Context, runID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	prefix := runID + "\x00"
	for key := range j.entries {
		if strings.HasPrefix(key, prefix) {
			delete(j.entries, key)
		}
	}
	return nil
}

// Close implements Journal.
func (j *MemoryJournal) Close() error {
	return nil
}

var bucketRuns = []byte("runs")

// BoltJournal persists step outputs in a bbolt file so a run can be resumed
// by another process. Each run is a nested bucket under "runs".
type BoltJournal struct {
	db *bbolt.DB
}

// OpenBoltJournal opens or creates the journal file at path.
func OpenBoltJournal(path string) (*BoltJournal, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRuns)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal: %w", err)
	}

	return &BoltJournal{db: db}, nil
}

// Load implements Journal.
func (j *BoltJournal) Load(_ context.Context, runID, step string) ([]byte, error) {
	var output []byte
	err := j.db.View(func(tx *bbolt.Tx) error {
		run := tx.Bucket(bucketRuns).Bucket([]byte(runID))
		if run == nil {
			return ErrNotJournaled
		}
		data := run.Get([]byte(step))
		if data == nil {
			return ErrNotJournaled
		}
		// Values are only valid inside the transaction.
		output = append([]byte(nil), data...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return output, nil
}

// Save implements Journal.
func (j *BoltJournal) Save(_ context.Context, runID, step string, output []byte) error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		run, err := tx.Bucket(bucketRuns).CreateBucketIfNotExists([]byte(runID))
		if err != nil {
			return err
		}
		return run.Put([]byte(step), output)
	})
}

// Forget implements Journal.
func (j *BoltJournal) Forget(_ context.Context, runID string) error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		err := tx.Bucket(bucketRuns).DeleteBucket([]byte(runID))
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

// Close implements Journal.
func (j *BoltJournal) Close() error {
	return j.db.Close()
}
