// Package store keeps finished repair sessions in a bbolt database.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/Azure/testbed-copilot/pkg/recipe"
)

const (
	sessionsBucket = "sessions"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrInUse    = errors.New("session store is in use by another process")
)

// Record is the persisted summary of one repair session.
type Record struct {
	WorkflowID string         `json:"workflow_id"`
	Repo       string         `json:"repo"`
	Version    string         `json:"version"`
	Status     string         `json:"status"`
	Iterations int            `json:"iterations"`
	Log        []string       `json:"log"`
	Message    string         `json:"message,omitempty"`
	Config     *recipe.Config `json:"config,omitempty"`
	ReportDir  string         `json:"report_dir,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Filter selects records in List.
type Filter func(Record) bool

func ByRepo(repo string) Filter {
	return func(r Record) bool { return r.Repo == repo }
}

func ByStatus(status string) Filter {
	return func(r Record) bool { return strings.EqualFold(r.Status, status) }
}

// BoltStore persists Records keyed by workflow id.
type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(dbPath string) (*BoltStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s (set TESTBED_STORE_PATH to use another file)", ErrInUse, dbPath)
		}
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(sessionsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create sessions bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Save creates or replaces the record.
func (s *BoltStore) Save(ctx context.Context, rec Record) error {
	if rec.WorkflowID == "" {
		return fmt.Errorf("record has no workflow id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		if err := tx.Bucket([]byte(sessionsBucket)).Put([]byte(rec.WorkflowID), data); err != nil {
			return fmt.Errorf("failed to store session: %w", err)
		}
		return nil
	})
}

func (s *BoltStore) Get(ctx context.Context, id string) (Record, error) {
	var rec Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(sessionsBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *BoltStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucket))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return bucket.Delete([]byte(id))
	})
}

// List returns matching records, newest first.
func (s *BoltStore) List(ctx context.Context, filters ...Filter) ([]Record, error) {
	var records []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(sessionsBucket)).ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil // skip corrupt entries
			}
			for _, f := range filters {
				if !f(rec) {
					return nil
				}
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	return records, nil
}
