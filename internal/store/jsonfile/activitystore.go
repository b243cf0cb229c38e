package jsonfile

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/hay-kot/databus/internal/core/messaging"
)

const (
	defaultMaxActivities = 1000
	activityFilename     = "activity.jsonl"
)

// ActivityStore implements messaging.ActivityStore using a JSONL file shared
// by every process using the data directory. Records are appended one line
// at a time; the file is trimmed back to the retention limit every few
// appends rather than rewritten on each one.
type ActivityStore struct {
	dir           string
	maxActivities int

	mu       sync.Mutex
	appended int
}

var _ messaging.ActivityStore = (*ActivityStore)(nil)

// NewActivityStore creates a new activity store at the given directory.
func NewActivityStore(dir string) *ActivityStore {
	return &ActivityStore{
		dir:           dir,
		maxActivities: defaultMaxActivities,
	}
}

// WithMaxActivities sets how many of the newest events are retained.
func (s *ActivityStore) WithMaxActivities(max int) *ActivityStore {
	if max > 0 {
		s.maxActivities = max
	}
	return s
}

func (s *ActivityStore) filePath() string {
	return filepath.Join(s.dir, activityFilename)
}

// compactEvery is the number of appends between trims.
func (s *ActivityStore) compactEvery() int {
	return max(1, s.maxActivities/4)
}

func (s *ActivityStore) withFileLock(lockType int, fn func() error) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create activity directory: %w", err)
	}

	f, err := os.OpenFile(s.filePath()+".lock", os.O_CREATE|os.O_RDWR, 0o644)
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

// Record appends an activity event.
func (s *ActivityStore) Record(activity messaging.Activity) error {
	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}
	if activity.Timestamp.IsZero() {
		activity.Timestamp = time.Now()
	}

	line, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("encode activity: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withFileLock(syscall.LOCK_EX, func() error {
		f, err := os.OpenFile(s.filePath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open activity file: %w", err)
		}
		if _, err := f.Write(line); err != nil {
			f.Close() //nolint:errcheck
			return fmt.Errorf("append activity: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close activity file: %w", err)
		}

		s.appended++
		if s.appended < s.compactEvery() {
			return nil
		}
		s.appended = 0
		return s.compactUnsafe()
	})
}

// Query returns events matching q, newest first.
func (s *ActivityStore) Query(q messaging.ActivityQuery) ([]messaging.Activity, error) {
	if q.Channel != "" && !doublestar.ValidatePattern(q.Channel) {
		return nil, fmt.Errorf("invalid channel pattern %q", q.Channel)
	}

	var activities []messaging.Activity
	err := s.withFileLock(syscall.LOCK_SH, func() error {
		var err error
		activities, err = s.readUnsafe()
		return err
	})
	if err != nil {
		return nil, err
	}

	result := []messaging.Activity{}
	for _, a := range slices.Backward(activities) {
		if !matchActivity(q, a) {
			continue
		}
		result = append(result, a)
		if q.Limit > 0 && len(result) >= q.Limit {
			break
		}
	}
	return result, nil
}

func matchActivity(q messaging.ActivityQuery, a messaging.Activity) bool {
	if !q.Since.IsZero() && !a.Timestamp.After(q.Since) {
		return false
	}
	if len(q.Types) > 0 && !slices.Contains(q.Types, a.Type) {
		return false
	}
	if q.Channel != "" {
		if ok, _ := doublestar.Match(q.Channel, a.Channel); !ok {
			return false
		}
	}
	return true
}

// readUnsafe returns the retained events, oldest first. Malformed lines,
// such as a torn final write, are skipped. Caller must hold the file lock.
func (s *ActivityStore) readUnsafe() ([]messaging.Activity, error) {
	f, err := os.Open(s.filePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open activity file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	var activities []messaging.Activity
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var a messaging.Activity
		if err := json.Unmarshal(scanner.Bytes(), &a); err != nil {
			continue
		}
		activities = append(activities, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read activity file: %w", err)
	}

	if len(activities) > s.maxActivities {
		activities = activities[len(activities)-s.maxActivities:]
	}
	return activities, nil
}

// compactUnsafe rewrites the file with only the retained events. Caller
// must hold the exclusive file lock.
func (s *ActivityStore) compactUnsafe() error {
	activities, err := s.readUnsafe()
	if err != nil {
		return err
	}

	tmpPath := s.filePath() + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, a := range activities {
		if err := enc.Encode(a); err != nil {
			f.Close() //nolint:errcheck
			_ = os.Remove(tmpPath)
			return fmt.Errorf("write activity: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close() //nolint:errcheck
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write activity: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath()); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
