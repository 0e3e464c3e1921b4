// Package state is the single source of truth for which runs have been
// synced. Every transition is committed to the database before the mutating
// call returns, so a crash between admitting a transfer and recording its
// outcome leaves the run observably Transferring on restart.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/seqtools/runsync/pkg/errors"
	"github.com/seqtools/runsync/pkg/run"
)

var bucketRecords = []byte("records")

// Record is the persisted sync history for a single run name. Records are
// never deleted automatically: they double as the dedup guard and the audit
// trail.
type Record struct {
	Name      string     `json:"name"`
	Status    run.Status `json:"status"`
	UpdatedAt time.Time  `json:"updatedAt"`

	// Reason carries the failure message for TransferFailed and
	// VerificationFailed records.
	Reason string `json:"reason,omitempty"`
}

// Store tracks the sync status of every run that has ever been observed.
// The on-disk database survives restarts; the in-flight set does not, which
// is what makes a persisted Transferring record with no in-flight entry
// recognizable as an abandoned attempt.
type Store struct {
	db *bolt.DB

	mu       sync.Mutex
	inflight map[string]bool
}

// Open opens the state database at path, creating it (and its parent
// directory) if necessary.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.WithContext(err, "create state directory")
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.WithContext(err, "open state database")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.WithContext(err, "create records bucket")
	}

	return &Store{db: db, inflight: map[string]bool{}}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Status returns the last persisted status for the run, or StatusUnknown if
// the run has never been observed.
func (s *Store) Status(name string) (run.Status, error) {
	rec, ok, err := s.get(name)
	if err != nil {
		return run.StatusUnknown, err
	}
	if !ok {
		return run.StatusUnknown, nil
	}
	return rec.Status, nil
}

// Observed records the first sighting of a run. It's a no-op for runs that
// already have a record.
func (s *Store) Observed(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok, err := s.get(name)
	if err != nil || ok {
		return err
	}
	return s.put(Record{Name: name, Status: run.StatusDiscovered, UpdatedAt: time.Now()})
}

// MarkPending notes that a discovered run is still waiting for its
// completion signal. Runs in any other state are left alone.
func (s *Store) MarkPending(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok, err := s.get(name)
	if err != nil || !ok || rec.Status != run.StatusDiscovered {
		return err
	}
	return s.put(Record{Name: name, Status: run.StatusPending, UpdatedAt: time.Now()})
}

// TryBeginTransfer atomically admits a transfer for the run. It returns
// false if a transfer is already in flight for the name, or if the run has
// already reached a terminal state. This is the sole admission control point
// for transfers: callers that receive true own the run until they call
// RecordOutcome or Abandon.
//
// A record persisted as Transferring with nothing in flight belongs to an
// attempt abandoned by a previous process, and is admitted again.
func (s *Store) TryBeginTransfer(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inflight[name] {
		return false, nil
	}

	rec, ok, err := s.get(name)
	if err != nil {
		return false, err
	}
	if ok && rec.Status.Terminal() {
		return false, nil
	}

	err = s.put(Record{Name: name, Status: run.StatusTransferring, UpdatedAt: time.Now()})
	if err != nil {
		return false, err
	}
	s.inflight[name] = true
	return true, nil
}

// RecordOutcome persists the result of a transfer attempt and releases the
// in-flight gate for the run.
func (s *Store) RecordOutcome(name string, status run.Status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inflight, name)
	return s.put(Record{Name: name, Status: status, UpdatedAt: time.Now(), Reason: reason})
}

// Abandon releases the in-flight gate without recording an outcome, leaving
// the run Transferring on disk. It's used when a transfer is interrupted by
// shutdown, so that the next process retries the run from scratch.
func (s *Store) Abandon(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inflight, name)
}

// Reset clears a run's record back to Pending so that the watch loop
// re-evaluates it on the next cycle. This is the explicit operator override
// for terminal states; it refuses to touch a run with a transfer in flight.
func (s *Store) Reset(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inflight[name] {
		return fmt.Errorf("a transfer for %q is in flight", name)
	}

	_, ok, err := s.get(name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no record for run %q", name)
	}
	return s.put(Record{Name: name, Status: run.StatusPending, UpdatedAt: time.Now()})
}

// Records returns every persisted record, sorted by run name.
func (s *Store) Records() ([]Record, error) {
	var records []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		// bbolt iterates keys in byte order, so the result is already sorted.
		return tx.Bucket(bucketRecords).ForEach(func(_, data []byte) error {
			var rec Record
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, errors.WithContext(err, "read records")
	}
	return records, nil
}

func (s *Store) get(name string) (Record, bool, error) {
	var rec Record
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRecords).Get([]byte(name))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return Record{}, false, errors.WithContext(err, "read record")
	}
	return rec, found, nil
}

func (s *Store) put(rec Record) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRecords).Put([]byte(rec.Name), data)
	})
	if err != nil {
		return errors.WithContext(err, "write record")
	}
	return nil
}
