package config

import "os"

// expandEnv replaces ${VAR} and $VAR references in s with the corresponding
// environment variable value. Unset variables expand to the empty string,
// matching os.Expand's default behavior.
func expandEnv(s string) string {
	return os.Expand(s, os.Getenv)
}
