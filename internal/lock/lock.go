// Package lock provides run-level mutual exclusion through an on-disk lock
// record.
//
// The record is created with O_EXCL so exactly one of two concurrent acquirers
// wins. A record left behind by a dead process is reclaimed once it is older
// than the configured stale threshold. An OS advisory lock is deliberately not
// used here: the record must carry a readable holder identity and age so a
// later run can decide whether the previous holder is still alive.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Record is the persisted lock content.
type Record struct {
	HolderID   string    `json:"holderId"`
	AcquiredAt time.Time `json:"acquiredAt"`
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname,omitempty"`
}

// ContentionError reports that another run currently holds the lock.
type ContentionError struct {
	Path   string
	Holder Record
}

func (e *ContentionError) Error() string {
	return fmt.Sprintf("lock at %s held by %s since %s",
		e.Path, e.Holder.HolderID, e.Holder.AcquiredAt.Format(time.RFC3339))
}

// IsContentionError reports whether err is a lock contention failure.
func IsContentionError(err error) bool {
	var ce *ContentionError
	return errors.As(err, &ce)
}

// Handle represents ownership of an acquired lock. Release must run on every
// exit path of the owning run.
type Handle struct {
	path     string
	holderID string
	logger   *zap.Logger
	released bool
}

// Acquire takes the lock at path. An existing record younger than
// staleThreshold fails with ContentionError; an older record is reclaimed.
func Acquire(path string, staleThreshold time.Duration, logger *zap.Logger) (*Handle, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	record := Record{
		HolderID:   uuid.NewString(),
		AcquiredAt: time.Now().UTC(),
		PID:        os.Getpid(),
	}
	if hostname, err := os.Hostname(); err == nil {
		record.Hostname = hostname
	}

	created, err := tryCreate(path, record)
	if err != nil {
		return nil, err
	}
	if !created {
		existing, age, readErr := readRecord(path)
		if readErr != nil {
			// The record vanished between the create attempt and the
			// read; try once more before giving up.
			if os.IsNotExist(readErr) {
				created, err = tryCreate(path, record)
				if err != nil {
					return nil, err
				}
			}
			if !created {
				return nil, &ContentionError{Path: path, Holder: existing}
			}
		} else {
			if age < staleThreshold {
				return nil, &ContentionError{Path: path, Holder: existing}
			}

			logger.Warn("lock.reclaimed",
				zap.String("path", path),
				zap.String("previous_holder", existing.HolderID),
				zap.Duration("age", age))

			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to remove stale lock: %w", err)
			}
			created, err = tryCreate(path, record)
			if err != nil {
				return nil, err
			}
			if !created {
				// Another run reclaimed it first.
				existing, _, _ = readRecord(path)
				return nil, &ContentionError{Path: path, Holder: existing}
			}
		}
	}

	logger.Info("lock.acquired",
		zap.String("path", path),
		zap.String("holder_id", record.HolderID))

	return &Handle{
		path:     path,
		holderID: record.HolderID,
		logger:   logger,
	}, nil
}

// Release removes the lock record if this handle still owns it. Calling
// Release more than once is harmless.
func (h *Handle) Release() error {
	if h == nil || h.released {
		return nil
	}
	h.released = true

	existing, _, err := readRecord(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read lock record on release: %w", err)
	}
	if existing.HolderID != h.holderID {
		// Someone reclaimed the lock from us; leave their record alone.
		h.logger.Warn("lock.lost",
			zap.String("path", h.path),
			zap.String("current_holder", existing.HolderID))
		return nil
	}

	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock record: %w", err)
	}

	h.logger.Info("lock.released",
		zap.String("path", h.path),
		zap.String("holder_id", h.holderID))
	return nil
}

// HolderID returns the identity written to the lock record.
func (h *Handle) HolderID() string {
	return h.holderID
}

// tryCreate attempts an exclusive create of the lock record. It returns false
// without error when the file already exists.
func tryCreate(path string, record Record) (bool, error) {
	fd, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create lock file: %w", err)
	}
	defer fd.Close()

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return false, fmt.Errorf("failed to marshal lock record: %w", err)
	}
	if _, err := fd.Write(data); err != nil {
		_ = os.Remove(path)
		return false, fmt.Errorf("failed to write lock record: %w", err)
	}
	return true, nil
}

// readRecord loads the existing record and how long ago it was acquired.
// An unparsable record reports its file modification time as the age so a
// garbage lock file still becomes reclaimable.
func readRecord(path string) (Record, time.Duration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, 0, err
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil || record.AcquiredAt.IsZero() {
		info, statErr := os.Stat(path)
		if statErr != nil {
			return Record{}, 0, statErr
		}
		return record, time.Since(info.ModTime()), nil
	}

	return record, time.Since(record.AcquiredAt), nil
}
