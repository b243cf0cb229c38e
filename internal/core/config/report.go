package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hay-kot/criterio"
)

// Severity of a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding.
type Issue struct {
	Severity Severity `json:"severity"`
	Field    string   `json:"field,omitempty"`
	Message  string   `json:"message"`
}

// ProviderReport holds the issues of one configured provider.
type ProviderReport struct {
	Index   int     `json:"index"`
	Channel string  `json:"channel"`
	APIURL  string  `json:"api_url"`
	Issues  []Issue `json:"issues,omitempty"`
}

// Failed reports whether the provider has an error-level issue.
func (p ProviderReport) Failed() bool {
	for _, is := range p.Issues {
		if is.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Report is the outcome of validating a configuration, grouped so that
// provider problems sit with the channel they affect.
type Report struct {
	ConfigFile string           `json:"config_file,omitempty"`
	FileFound  bool             `json:"file_found"`
	Valid      bool             `json:"valid"`
	Errors     int              `json:"errors"`
	Warnings   int              `json:"warnings"`
	Providers  []ProviderReport `json:"providers"`
	// Issues not tied to a single provider.
	Issues []Issue `json:"issues,omitempty"`
}

// Report validates the configuration with ValidateDeep and Warnings and
// groups the result by provider.
func (c *Config) Report(configPath string) Report {
	r := Report{ConfigFile: configPath, Providers: make([]ProviderReport, len(c.Providers))}
	if configPath != "" {
		if info, err := os.Stat(configPath); err == nil && !info.IsDir() {
			r.FileFound = true
		}
	}

	for i, p := range c.Providers {
		r.Providers[i] = ProviderReport{Index: i, Channel: p.Channel(c.Namespace).Base(), APIURL: p.APIURL}
	}

	for _, fe := range fieldErrors(c.ValidateDeep(configPath)) {
		r.add(Issue{Severity: SeverityError, Field: fe.Field, Message: fe.Err.Error()})
	}
	for _, w := range c.Warnings() {
		field := w.Item
		if field == "" {
			field = strings.ToLower(w.Category)
		}
		r.add(Issue{Severity: SeverityWarning, Field: field, Message: w.Message})
	}

	r.Valid = r.Errors == 0
	return r
}

func (r *Report) add(is Issue) {
	if is.Severity == SeverityError {
		r.Errors++
	} else {
		r.Warnings++
	}

	if i, ok := providerIndex(is.Field); ok && i < len(r.Providers) {
		r.Providers[i].Issues = append(r.Providers[i].Issues, is)
		return
	}
	r.Issues = append(r.Issues, is)
}

// providerIndex extracts i from a "providers[i]..." field path.
func providerIndex(field string) (int, bool) {
	var i int
	if _, err := fmt.Sscanf(field, "providers[%d]", &i); err != nil {
		return 0, false
	}
	return i, i >= 0
}

func fieldErrors(err error) criterio.FieldErrors {
	if err == nil {
		return nil
	}
	var fieldErrs criterio.FieldErrors
	if errors.As(err, &fieldErrs) {
		return fieldErrs
	}
	return criterio.FieldErrors{{Err: err}}
}
