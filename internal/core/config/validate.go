package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hay-kot/criterio"

	"github.com/hay-kot/databus/internal/core/validate"
)

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Category string `json:"category"`
	Item     string `json:"item,omitempty"`
	Message  string `json:"message"`
}

// ValidateDeep performs comprehensive validation of the configuration and
// reports every problem found as criterio.FieldErrors. Unlike Validate, it
// also checks file access and origin syntax.
func (c *Config) ValidateDeep(configPath string) error {
	var errs criterio.FieldErrorsBuilder

	errs = c.validateFileAccess(errs, configPath)

	if err := validate.Segment("namespace", c.Namespace); err != nil {
		errs = errs.Append("namespace", err)
	}

	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		errs = errs.Append("listen", fmt.Errorf("invalid address %q: %w", c.Listen, err))
	}

	for i, origin := range c.AllowedOrigins {
		if err := validateOrigin(origin); err != nil {
			errs = errs.Append(fmt.Sprintf("allowed_origins[%d]", i), err)
		}
	}

	if c.HTTP.Timeout < 0 {
		errs = errs.Append("http.timeout", fmt.Errorf("cannot be negative"))
	}

	errs = c.validateProviders(errs)

	if !doublestar.ValidatePattern(c.Journal.Pattern) {
		errs = errs.Append("journal.pattern", fmt.Errorf("invalid glob %q", c.Journal.Pattern))
	}
	if c.Journal.MaxRecords < 1 {
		errs = errs.Append("journal.max_records", fmt.Errorf("must be at least 1"))
	}
	if c.Activity.MaxEntries < 1 {
		errs = errs.Append("activity.max_entries", fmt.Errorf("must be at least 1"))
	}

	return errs.ToError()
}

func (c *Config) validateFileAccess(errs criterio.FieldErrorsBuilder, configPath string) criterio.FieldErrorsBuilder {
	if configPath != "" {
		if info, err := os.Stat(configPath); err == nil {
			if info.IsDir() {
				errs = errs.Append("config_file", fmt.Errorf("%s is a directory, not a file", configPath))
			}
		} else if !os.IsNotExist(err) {
			errs = errs.Append("config_file", fmt.Errorf("cannot access %s: %w", configPath, err))
		}
	}

	if c.DataDir == "" {
		return errs.Append("data_dir", fmt.Errorf("cannot be empty"))
	}

	if info, err := os.Stat(c.DataDir); err == nil {
		if !info.IsDir() {
			errs = errs.Append("data_dir", fmt.Errorf("%s exists but is not a directory", c.DataDir))
		}
	} else if !os.IsNotExist(err) {
		errs = errs.Append("data_dir", fmt.Errorf("cannot access %s: %w", c.DataDir, err))
	}

	return errs
}

func (c *Config) validateProviders(errs criterio.FieldErrorsBuilder) criterio.FieldErrorsBuilder {
	for i, p := range c.Providers {
		field := fmt.Sprintf("providers[%d]", i)

		if p.Namespace != "" {
			if err := validate.Segment("namespace", p.Namespace); err != nil {
				errs = errs.Append(field+".namespace", err)
			}
		}
		if err := validate.Segment("store", p.Store); err != nil {
			errs = errs.Append(field+".store", err)
		}
		if p.Version < 1 {
			errs = errs.Append(field+".version", fmt.Errorf("must be at least 1, got %d", p.Version))
		}
		if err := validate.APIURL(p.APIURL); err != nil {
			errs = errs.Append(field+".api_url", err)
		}
	}
	return errs
}

func validateOrigin(origin string) error {
	if origin == "*" {
		return nil
	}
	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin %q: %w", origin, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("origin %q must be scheme://host[:port]", origin)
	}
	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("origin %q must not have a path", origin)
	}
	return nil
}

// Warnings returns non-fatal issues with the configuration.
func (c *Config) Warnings() []ValidationWarning {
	var warnings []ValidationWarning

	if len(c.Providers) == 0 {
		warnings = append(warnings, ValidationWarning{
			Category: "Providers",
			Message:  "no providers defined; serve will only relay bus traffic",
		})
	}

	seen := make(map[string]int, len(c.Providers))
	for i, p := range c.Providers {
		base := p.Channel(c.Namespace).Base()
		if j, ok := seen[base]; ok {
			warnings = append(warnings, ValidationWarning{
				Category: "Providers",
				Item:     fmt.Sprintf("providers[%d]", i),
				Message:  fmt.Sprintf("channel %s is also served by providers[%d]; accessors keep whichever response arrives last", base, j),
			})
			continue
		}
		seen[base] = i

		if u, err := url.Parse(p.APIURL); err == nil && strings.EqualFold(u.Scheme, "http") && !isLoopback(u.Hostname()) {
			warnings = append(warnings, ValidationWarning{
				Category: "Providers",
				Item:     fmt.Sprintf("providers[%d].api_url", i),
				Message:  "uses plain http to a non-local host",
			})
		}
	}

	if host, _, err := net.SplitHostPort(c.Listen); err == nil && !isLoopback(host) {
		for _, origin := range c.AllowedOrigins {
			if origin == "*" {
				warnings = append(warnings, ValidationWarning{
					Category: "Bridge",
					Item:     "allowed_origins",
					Message:  "any origin may connect to a non-loopback listener",
				})
				break
			}
		}
	}

	if !c.Journal.Enabled {
		warnings = append(warnings, ValidationWarning{
			Category: "Journal",
			Message:  "journal disabled; `databus journal` will have nothing to show",
		})
	}

	return warnings
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
