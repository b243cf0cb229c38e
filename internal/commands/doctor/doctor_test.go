package doctor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCheck struct {
	name  string
	items []Item
	ran   bool
}

func (c *stubCheck) Name() string { return c.name }

func (c *stubCheck) Run(context.Context) Result {
	c.ran = true
	return Result{Name: c.name, Items: append([]Item(nil), c.items...)}
}

type stubNetworkCheck struct{ stubCheck }

func (c *stubNetworkCheck) networked() {}

func TestRun_OfflineSkipsNetworkedChecks(t *testing.T) {
	local := &stubCheck{name: "Local", items: []Item{{Label: "a", Status: StatusPass}}}
	remote := &stubNetworkCheck{stubCheck{name: "Remote", items: []Item{{Label: "b", Status: StatusFail}}}}

	report := Run(context.Background(), []Check{local, remote}, Options{Offline: true})

	assert.True(t, local.ran)
	assert.False(t, remote.ran)
	require.Len(t, report.Checks, 2)
	assert.Equal(t, "Remote", report.Checks[1].Name)
	assert.Equal(t, StatusSkip, report.Checks[1].Items[0].Status)
	assert.Equal(t, Summary{Passed: 1, Skipped: 1}, report.Summary)
	assert.True(t, report.Healthy)

	report = Run(context.Background(), []Check{local, remote}, Options{})
	assert.True(t, remote.ran)
	assert.False(t, report.Healthy)
}

func TestRun_Fixes(t *testing.T) {
	var applied []string
	fix := func(name string, err error) Fix {
		return func(context.Context) error {
			applied = append(applied, name)
			return err
		}
	}

	check := &stubCheck{name: "Stray", items: []Item{
		{Label: "ok", Status: StatusPass, Fix: fix("ok", nil)},
		{Label: "tmp", Status: StatusWarn, Detail: "leftover", Fix: fix("tmp", nil)},
		{Label: "locked", Status: StatusWarn, Fix: fix("locked", errors.New("permission denied"))},
		{Label: "manual", Status: StatusWarn},
	}}

	report := Run(context.Background(), []Check{check}, Options{})
	assert.Empty(t, applied, "fixes only run with Fix set")
	assert.Equal(t, 2, report.Summary.Fixable)

	report = Run(context.Background(), []Check{check}, Options{Fix: true})
	assert.Equal(t, []string{"tmp", "locked"}, applied)

	items := report.Checks[0].Items
	assert.Equal(t, StatusPass, items[1].Status)
	assert.Equal(t, "fixed: leftover", items[1].Detail)
	assert.Equal(t, StatusFail, items[2].Status)
	assert.Equal(t, "fix failed: permission denied", items[2].Detail)
	assert.Equal(t, StatusWarn, items[3].Status)
	assert.Equal(t, Summary{Passed: 2, Warned: 1, Failed: 1, Fixed: 1}, report.Summary)
	assert.False(t, report.Healthy)
}

func TestReport_JSON(t *testing.T) {
	check := &stubCheck{name: "Journal", items: []Item{{Label: "tmp", Status: StatusWarn, Fix: func(context.Context) error { return nil }}}}

	raw, err := json.Marshal(Run(context.Background(), []Check{check}, Options{}))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"healthy": true,
		"summary": {"passed": 0, "warned": 1, "failed": 0, "skipped": 0, "fixable": 1, "fixed": 0},
		"checks": [{"name": "Journal", "items": [{"label": "tmp", "status": "warn", "fixable": true}]}]
	}`, string(raw))
}
