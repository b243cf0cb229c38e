package jsonfile

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hay-kot/databus/internal/core/messaging"
)

func TestActivityStore_RecordAndQuery(t *testing.T) {
	store := NewActivityStore(t.TempDir())

	types := []messaging.ActivityType{
		messaging.ActivityFetchStarted,
		messaging.ActivityFetchSucceeded,
		messaging.ActivityRequestAnswered,
	}
	for _, typ := range types {
		if err := store.Record(messaging.Activity{Type: typ, Channel: "company/widgets/v1"}); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	got, err := store.Query(messaging.ActivityQuery{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Query returned %d activities, want 3", len(got))
	}

	// Newest first
	if got[0].Type != messaging.ActivityRequestAnswered {
		t.Errorf("first activity = %q, want %q", got[0].Type, messaging.ActivityRequestAnswered)
	}
	if got[0].ID == "" || got[0].Timestamp.IsZero() {
		t.Errorf("ID and Timestamp should be set: %+v", got[0])
	}

	limited, err := store.Query(messaging.ActivityQuery{Limit: 2})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Query(Limit: 2) returned %d activities, want 2", len(limited))
	}
}

func TestActivityStore_QueryFilters(t *testing.T) {
	store := NewActivityStore(t.TempDir())

	records := []messaging.Activity{
		{Type: messaging.ActivityFetchStarted, Channel: "company/widgets/v1", Generation: 1},
		{Type: messaging.ActivityFetchFailed, Channel: "company/gadgets/v1", Generation: 1, Error: "boom"},
		{Type: messaging.ActivityFetchSucceeded, Channel: "company/widgets/v1", Generation: 1, Items: 2},
		{Type: messaging.ActivityFetchSucceeded, Channel: "company/widgets/v2", Generation: 1, Items: 5},
		{Type: messaging.ActivityRequestAnswered, Channel: "company/widgets/v1", Generation: 1},
	}
	for _, r := range records {
		if err := store.Record(r); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	tests := []struct {
		name  string
		query messaging.ActivityQuery
		want  []messaging.ActivityType
	}{
		{
			name:  "exact channel",
			query: messaging.ActivityQuery{Channel: "company/widgets/v1"},
			want:  []messaging.ActivityType{messaging.ActivityRequestAnswered, messaging.ActivityFetchSucceeded, messaging.ActivityFetchStarted},
		},
		{
			name:  "channel limit applies after filter",
			query: messaging.ActivityQuery{Channel: "company/widgets/v1", Limit: 2},
			want:  []messaging.ActivityType{messaging.ActivityRequestAnswered, messaging.ActivityFetchSucceeded},
		},
		{
			name:  "channel pattern",
			query: messaging.ActivityQuery{Channel: "company/*/v1", Types: []messaging.ActivityType{messaging.ActivityFetchFailed, messaging.ActivityFetchSucceeded}},
			want:  []messaging.ActivityType{messaging.ActivityFetchSucceeded, messaging.ActivityFetchFailed},
		},
		{
			name:  "type only",
			query: messaging.ActivityQuery{Types: []messaging.ActivityType{messaging.ActivityFetchSucceeded}},
			want:  []messaging.ActivityType{messaging.ActivityFetchSucceeded, messaging.ActivityFetchSucceeded},
		},
		{
			name:  "no match",
			query: messaging.ActivityQuery{Channel: "company/none/v1"},
			want:  []messaging.ActivityType{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Query(tt.query)
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			types := make([]messaging.ActivityType, len(got))
			for i, a := range got {
				types[i] = a.Type
			}
			if len(types) != len(tt.want) {
				t.Fatalf("types = %v, want %v", types, tt.want)
			}
			for i := range types {
				if types[i] != tt.want[i] {
					t.Errorf("types = %v, want %v", types, tt.want)
					break
				}
			}
		})
	}
}

func TestActivityStore_QueryInvalidPattern(t *testing.T) {
	store := NewActivityStore(t.TempDir())

	if _, err := store.Query(messaging.ActivityQuery{Channel: "company/[widgets"}); err == nil {
		t.Fatal("Query should reject an invalid channel pattern")
	}
}

func TestActivityStore_QuerySince(t *testing.T) {
	store := NewActivityStore(t.TempDir())

	_ = store.Record(messaging.Activity{Type: messaging.ActivityFetchStarted})
	time.Sleep(10 * time.Millisecond)
	midpoint := time.Now()
	time.Sleep(10 * time.Millisecond)
	_ = store.Record(messaging.Activity{Type: messaging.ActivityFetchFailed, Error: "boom"})

	got, err := store.Query(messaging.ActivityQuery{Since: midpoint})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Query returned %d activities, want 1", len(got))
	}
	if got[0].Error != "boom" {
		t.Errorf("Error = %q, want %q", got[0].Error, "boom")
	}
}

func TestActivityStore_Retention(t *testing.T) {
	dir := t.TempDir()
	store := NewActivityStore(dir).WithMaxActivities(2)

	for i := range 4 {
		_ = store.Record(messaging.Activity{Type: messaging.ActivityFetchStarted, Generation: uint64(i + 1)})
	}

	got, err := store.Query(messaging.ActivityQuery{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Query returned %d activities, want 2", len(got))
	}
	if got[0].Generation != 4 || got[1].Generation != 3 {
		t.Errorf("generations = %d,%d, want 4,3", got[0].Generation, got[1].Generation)
	}

	if n := countLines(t, filepath.Join(dir, activityFilename)); n != 2 {
		t.Errorf("file holds %d lines after compaction, want 2", n)
	}
}

func TestActivityStore_AppendsBetweenCompactions(t *testing.T) {
	dir := t.TempDir()
	store := NewActivityStore(dir).WithMaxActivities(8)

	// Compaction runs every second append for a limit of 8.
	for i := range 9 {
		_ = store.Record(messaging.Activity{Type: messaging.ActivityFetchStarted, Generation: uint64(i + 1)})
	}

	if n := countLines(t, filepath.Join(dir, activityFilename)); n != 9 {
		t.Errorf("file holds %d lines, want 9 before the next compaction", n)
	}

	got, err := store.Query(messaging.ActivityQuery{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 8 || got[0].Generation != 9 || got[7].Generation != 2 {
		t.Errorf("Query returned %d activities from %d to %d, want 8 from 9 to 2", len(got), got[0].Generation, got[len(got)-1].Generation)
	}

	_ = store.Record(messaging.Activity{Type: messaging.ActivityFetchStarted, Generation: 10})
	if n := countLines(t, filepath.Join(dir, activityFilename)); n != 8 {
		t.Errorf("file holds %d lines after compaction, want 8", n)
	}
}

func TestActivityStore_SkipsTornLines(t *testing.T) {
	dir := t.TempDir()
	store := NewActivityStore(dir)

	_ = store.Record(messaging.Activity{Type: messaging.ActivityFetchStarted})

	f, err := os.OpenFile(filepath.Join(dir, activityFilename), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _ = f.WriteString(`{"id":"torn","type":"fetch_`)
	_ = f.Close()

	got, err := store.Query(messaging.ActivityQuery{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Query returned %d activities, want 1", len(got))
	}
}

func TestActivityStore_QueryEmpty(t *testing.T) {
	store := NewActivityStore(t.TempDir())

	got, err := store.Query(messaging.ActivityQuery{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Query returned %v, want empty", got)
	}
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close() //nolint:errcheck

	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		n++
	}
	return n
}
