package doctor

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/hay-kot/databus/internal/core/messaging"
)

// JournalCheck detects stray files in the journal directory: temp files
// left by interrupted writes, lock files without a journal, and journal
// files whose name does not decode to a tag.
type JournalCheck struct {
	dir string
}

// NewJournalCheck creates a new journal directory check. Stray files are
// reported as fixable; the fix deletes them.
func NewJournalCheck(dir string) *JournalCheck {
	return &JournalCheck{dir: dir}
}

func (c *JournalCheck) Name() string {
	return "Journal"
}

func (c *JournalCheck) Run(_ context.Context) Result {
	result := Result{Name: c.Name()}

	if _, err := os.Stat(c.dir); os.IsNotExist(err) {
		result.Items = append(result.Items, Item{
			Label:  "Journal directory",
			Status: StatusPass,
			Detail: "no journal directory yet",
		})
		return result
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		result.Items = append(result.Items, Item{
			Label:  "Read journal directory",
			Status: StatusFail,
			Detail: err.Error(),
		})
		return result
	}

	present := make(map[string]bool, len(entries))
	for _, entry := range entries {
		present[entry.Name()] = true
	}

	type stray struct {
		name   string
		reason string
	}

	var (
		strays   []stray
		journals int
	)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".json.tmp"):
			strays = append(strays, stray{name, "leftover temp file from an interrupted write"})
		case strings.HasSuffix(name, ".json.lock"):
			if !present[strings.TrimSuffix(name, ".lock")] {
				strays = append(strays, stray{name, "lock file without a journal"})
			}
		case strings.HasSuffix(name, ".json"):
			tag, err := url.PathUnescape(strings.TrimSuffix(name, ".json"))
			if err != nil || !messaging.Tag(tag).Valid() {
				strays = append(strays, stray{name, "file name is not a valid tag"})
				continue
			}
			journals++
		}
	}

	if len(strays) == 0 {
		result.Items = append(result.Items, Item{
			Label:  "No stray files",
			Status: StatusPass,
			Detail: fmt.Sprintf("%d tag journal(s)", journals),
		})
		return result
	}

	for _, s := range strays {
		path := filepath.Join(c.dir, s.name)
		result.Items = append(result.Items, Item{
			Label:  s.name,
			Status: StatusWarn,
			Detail: s.reason,
			Fix: func(context.Context) error {
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					return err
				}
				return nil
			},
		})
	}

	return result
}
