package config

import "os"

// ExpandEnv replaces ${VAR} and $VAR references in raw YAML bytes with
// values from the process environment before parsing, so deployment
// secrets never need to be committed to the config file itself.
func ExpandEnv(raw []byte) []byte {
	return []byte(os.Expand(string(raw), os.Getenv))
}
