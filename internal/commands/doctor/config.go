package doctor

import (
	"context"
	"strings"

	"github.com/hay-kot/databus/internal/core/config"
)

// ConfigCheck validates the configuration and reports one item per
// provider channel plus one per remaining setting issue.
type ConfigCheck struct {
	config     *config.Config
	configPath string
}

// NewConfigCheck creates a new configuration check.
func NewConfigCheck(cfg *config.Config, configPath string) *ConfigCheck {
	return &ConfigCheck{config: cfg, configPath: configPath}
}

func (c *ConfigCheck) Name() string {
	return "Configuration"
}

func (c *ConfigCheck) Run(_ context.Context) Result {
	result := Result{Name: c.Name()}

	if c.config == nil {
		result.Items = append(result.Items, Item{
			Label:  "Config loaded",
			Status: StatusFail,
			Detail: "configuration not loaded",
		})
		return result
	}

	r := c.config.Report(c.configPath)

	file := Item{Label: "Config file", Status: StatusPass, Detail: r.ConfigFile}
	if !r.FileFound {
		file.Detail = "not found, using defaults"
	}
	result.Items = append(result.Items, file)

	for _, p := range r.Providers {
		item := Item{Label: p.Channel, Status: StatusPass, Detail: p.APIURL}
		if len(p.Issues) > 0 {
			item.Status = StatusWarn
			if p.Failed() {
				item.Status = StatusFail
			}
			item.Detail = joinIssues(p.Issues)
		}
		result.Items = append(result.Items, item)
	}

	for _, is := range r.Issues {
		status := StatusWarn
		if is.Severity == config.SeverityError {
			status = StatusFail
		}
		label := is.Field
		if label == "" {
			label = "validation"
		}
		result.Items = append(result.Items, Item{Label: label, Status: status, Detail: is.Message})
	}

	return result
}

func joinIssues(issues []config.Issue) string {
	parts := make([]string, len(issues))
	for i, is := range issues {
		field := is.Field
		if j := strings.Index(field, "]."); j >= 0 {
			field = field[j+2:]
		}
		parts[i] = field + ": " + is.Message
	}
	return strings.Join(parts, "; ")
}
