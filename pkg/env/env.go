package env

import (
	"os"
	"strings"
)

// Get returns the value of the given environment variable, with surrounding
// whitespace trimmed, or the fallback when unset or blank.
func Get(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
