// Package validate provides shared validation functions.
package validate

import (
	"fmt"
	"net/url"
	"strings"
)

// ReservedChars may not appear in a channel segment. Glob metacharacters are
// included so a tag can always be used as a literal pattern when tapping
// the bus.
const ReservedChars = `/*?[]{}\`

// Segment validates a single channel segment (namespace or store). name is
// used in the error message.
func Segment(name, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%s is required", name)
	}
	if strings.ContainsAny(v, ReservedChars) {
		return fmt.Errorf("%s %q contains reserved characters (%s)", name, v, ReservedChars)
	}
	return nil
}

// APIURL validates an absolute http or https URL.
func APIURL(raw string) error {
	return absoluteURL(raw, "http", "https")
}

// BridgeURL validates an absolute ws or wss URL.
func BridgeURL(raw string) error {
	return absoluteURL(raw, "ws", "wss")
}

func absoluteURL(raw string, schemes ...string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("url is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}

	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			if u.Host == "" {
				return fmt.Errorf("url %q has no host", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("url %q must use %s", raw, strings.Join(schemes, " or "))
}
