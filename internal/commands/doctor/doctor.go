// Package doctor runs health checks against a databus setup: the config,
// the journal directory, provider endpoints and a running bridge.
package doctor

import (
	"context"
	"fmt"
)

// Status is the outcome of a single item.
type Status int

const (
	StatusPass Status = iota
	StatusWarn
	StatusFail
	StatusSkip
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	case StatusSkip:
		return "skip"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Fix repairs the problem an item reports.
type Fix func(ctx context.Context) error

// Item is one line of a check result.
type Item struct {
	Label  string `json:"label"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`

	// Fix is applied by Run when Options.Fix is set and the item is a
	// warning or failure. Without it the item is only marked Fixable.
	Fix     Fix  `json:"-"`
	Fixable bool `json:"fixable,omitempty"`
	Fixed   bool `json:"fixed,omitempty"`
}

// Result groups the items produced by one check.
type Result struct {
	Name  string `json:"name"`
	Items []Item `json:"items"`
}

// Check is a single diagnostic.
type Check interface {
	Name() string
	Run(ctx context.Context) Result
}

// networked is implemented by checks that contact a provider endpoint or
// the bridge.
type networked interface {
	networked()
}

// Options controls a doctor run.
type Options struct {
	// Fix applies the Fix of every fixable item.
	Fix bool
	// Offline skips networked checks.
	Offline bool
}

// Summary counts items across a report.
type Summary struct {
	Passed  int `json:"passed"`
	Warned  int `json:"warned"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Fixable int `json:"fixable"`
	Fixed   int `json:"fixed"`
}

// Report is the outcome of Run.
type Report struct {
	Healthy bool     `json:"healthy"`
	Summary Summary  `json:"summary"`
	Checks  []Result `json:"checks"`
}

// Run executes checks in order, skipping networked ones when offline and
// applying fixes when asked.
func Run(ctx context.Context, checks []Check, opts Options) Report {
	var r Report
	for _, check := range checks {
		var result Result
		if _, ok := check.(networked); ok && opts.Offline {
			result = Result{Name: check.Name(), Items: []Item{{Label: "skipped", Status: StatusSkip, Detail: "offline"}}}
		} else {
			result = check.Run(ctx)
		}

		for i := range result.Items {
			item := &result.Items[i]
			if item.Fix != nil && (item.Status == StatusWarn || item.Status == StatusFail) {
				if opts.Fix {
					applyFix(ctx, item)
				} else {
					item.Fixable = true
				}
			}
			r.Summary.add(*item)
		}
		r.Checks = append(r.Checks, result)
	}
	r.Healthy = r.Summary.Failed == 0
	return r
}

func applyFix(ctx context.Context, item *Item) {
	if err := item.Fix(ctx); err != nil {
		item.Status = StatusFail
		item.Detail = fmt.Sprintf("fix failed: %v", err)
		return
	}
	item.Status = StatusPass
	item.Fixed = true
	item.Detail = "fixed: " + item.Detail
}

func (s *Summary) add(item Item) {
	switch item.Status {
	case StatusPass:
		s.Passed++
	case StatusWarn:
		s.Warned++
	case StatusFail:
		s.Failed++
	case StatusSkip:
		s.Skipped++
	}
	if item.Fixable {
		s.Fixable++
	}
	if item.Fixed {
		s.Fixed++
	}
}
