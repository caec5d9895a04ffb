package config

import (
	"fmt"
	"strings"
)

// ParseBool interprets the boolean spellings accepted in environment
// variables: yes/no, true/false, 1/0, enable/disable, enabled/disabled.
// Matching is case-insensitive.
func ParseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes", "true", "1", "enable", "enabled":
		return true, nil
	case "no", "false", "0", "disable", "disabled":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q", ErrInvalidBool, value)
}
