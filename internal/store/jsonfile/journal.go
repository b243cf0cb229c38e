package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/oklog/ulid/v2"

	"github.com/hay-kot/databus/internal/core/messaging"
)

const defaultMaxRecords = 100

// tagFile is the on-disk layout of a single tag's journal.
type tagFile struct {
	Tag       messaging.Tag      `json:"tag"`
	Records   []messaging.Record `json:"records"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Journal implements messaging.JournalStore using per-tag JSON files.
type Journal struct {
	dir        string
	maxRecords int
	mu         sync.RWMutex
}

var _ messaging.JournalStore = (*Journal)(nil)

// NewJournal creates a journal rooted at dir
// (e.g., $XDG_DATA_HOME/databus/journal).
func NewJournal(dir string) *Journal {
	return &Journal{
		dir:        dir,
		maxRecords: defaultMaxRecords,
	}
}

// WithMaxRecords sets the maximum number of records retained per tag.
func (s *Journal) WithMaxRecords(max int) *Journal {
	if max > 0 {
		s.maxRecords = max
	}
	return s
}

// tagPath returns the file path for a tag. Tags contain slashes, so the name
// is path-escaped.
func (s *Journal) tagPath(tag messaging.Tag) string {
	return filepath.Join(s.dir, url.PathEscape(string(tag))+".json")
}

func (s *Journal) lockPath(tag messaging.Tag) string {
	return s.tagPath(tag) + ".lock"
}

func (s *Journal) withSharedLock(tag messaging.Tag, fn func() error) error {
	return s.withFileLock(tag, syscall.LOCK_SH, fn)
}

func (s *Journal) withExclusiveLock(tag messaging.Tag, fn func() error) error {
	return s.withFileLock(tag, syscall.LOCK_EX, fn)
}

// withFileLock acquires a file lock, executes fn, then releases the lock.
func (s *Journal) withFileLock(tag messaging.Tag, lockType int, fn func() error) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}

	f, err := os.OpenFile(s.lockPath(tag), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	if err := syscall.Flock(int(f.Fd()), lockType); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN) //nolint:errcheck

	return fn()
}

// Append adds a record to its tag's journal.
func (s *Journal) Append(ctx context.Context, rec messaging.Record) error {
	if rec.Tag == "" {
		return fmt.Errorf("append: record has no tag")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withExclusiveLock(rec.Tag, func() error {
		file, err := s.load(rec.Tag)
		if err != nil {
			return err
		}

		if rec.ID == "" {
			rec.ID = ulid.Make().String()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now()
		}

		file.Records = append(file.Records, rec)
		file.UpdatedAt = time.Now()

		if len(file.Records) > s.maxRecords {
			file.Records = file.Records[len(file.Records)-s.maxRecords:]
		}

		return s.save(file)
	})
}

// Read returns records for tags matching pattern, oldest first.
//   - "" or "**" returns records for every tag
//   - "company/widgets/*/*" matches with doublestar semantics
//
// Returns ErrNoRecords if no journaled tag matches.
func (s *Journal) Read(ctx context.Context, pattern string, since time.Time) ([]messaging.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tags, err := s.matchingTags(pattern)
	if err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		return nil, messaging.ErrNoRecords
	}

	var records []messaging.Record
	for _, tag := range tags {
		err := s.withSharedLock(tag, func() error {
			file, err := s.load(tag)
			if err != nil {
				return err
			}
			for _, rec := range file.Records {
				if since.IsZero() || rec.CreatedAt.After(since) {
					records = append(records, rec)
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	return records, nil
}

// List returns all journaled tags, sorted.
func (s *Journal) List(ctx context.Context) ([]messaging.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listTagsUnsafe()
}

// Prune removes records older than the given duration across all tags.
func (s *Journal) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tags, err := s.listTagsUnsafe()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	var removed int

	for _, tag := range tags {
		err := s.withExclusiveLock(tag, func() error {
			file, err := s.load(tag)
			if err != nil {
				return err
			}

			var kept []messaging.Record
			for _, rec := range file.Records {
				if rec.CreatedAt.After(cutoff) {
					kept = append(kept, rec)
				} else {
					removed++
				}
			}

			if len(kept) != len(file.Records) {
				file.Records = kept
				file.UpdatedAt = time.Now()
				return s.save(file)
			}
			return nil
		})
		if err != nil {
			return removed, err
		}
	}

	return removed, nil
}

func (s *Journal) matchingTags(pattern string) ([]messaging.Tag, error) {
	tags, err := s.listTagsUnsafe()
	if err != nil {
		return nil, err
	}

	if pattern == "" || pattern == "**" {
		return tags, nil
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q", pattern)
	}

	var matched []messaging.Tag
	for _, tag := range tags {
		if ok, _ := doublestar.Match(pattern, string(tag)); ok {
			matched = append(matched, tag)
		}
	}
	return matched, nil
}

// listTagsUnsafe returns all tag names without locking.
// Caller must hold s.mu.
func (s *Journal) listTagsUnsafe() ([]messaging.Tag, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read journal directory: %w", err)
	}

	var tags []messaging.Tag
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		tag, err := url.PathUnescape(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		tags = append(tags, messaging.Tag(tag))
	}

	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags, nil
}

// load reads a tag file from disk. Returns an empty journal if the file
// doesn't exist.
func (s *Journal) load(tag messaging.Tag) (tagFile, error) {
	data, err := os.ReadFile(s.tagPath(tag))
	if err != nil {
		if os.IsNotExist(err) {
			return tagFile{Tag: tag}, nil
		}
		return tagFile{}, fmt.Errorf("read journal file: %w", err)
	}

	if len(data) == 0 {
		return tagFile{Tag: tag}, nil
	}

	var file tagFile
	if err := json.Unmarshal(data, &file); err != nil {
		return tagFile{}, fmt.Errorf("parse journal file: %w", err)
	}
	return file, nil
}

// save writes a tag file to disk atomically.
func (s *Journal) save(file tagFile) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal journal: %w", err)
	}

	path := s.tagPath(file.Tag)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}
