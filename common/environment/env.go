// Package environment overlays configuration values with environment variables.
//
// Each helper leaves the destination untouched when the variable is unset or
// empty, so callers can load defaults or a config file first and apply the
// environment last. Malformed values are reported instead of being ignored.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// lookup returns the trimmed value of name and whether it carries anything.
func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// String overwrites dst with the value of name when it is set.
func String(name string, dst *string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}

// Bool overwrites dst with the boolean value of name when it is set. Accepted
// spellings are those of strconv.ParseBool.
func Bool(name string, dst *bool) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: invalid boolean %q", name, v)
	}
	*dst = b
	return nil
}

// Int overwrites dst with the decimal value of name when it is set.
func Int(name string, dst *int) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", name, v)
	}
	*dst = n
	return nil
}

// Duration overwrites dst with the value of name parsed by time.ParseDuration.
func Duration(name string, dst *time.Duration) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", name, v)
	}
	*dst = d
	return nil
}

// Required returns the value of name, or an error naming the variable.
func Required(name string) (string, error) {
	v, ok := lookup(name)
	if !ok {
		return "", fmt.Errorf("required environment variable %q is not set", name)
	}
	return v, nil
}
