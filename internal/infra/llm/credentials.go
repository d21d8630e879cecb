package llm

import (
	"os"
	"strings"
)

// placeholderKey is the value shipped in sample env files; it counts as missing.
const placeholderKey = "tu_api_key_aqui"

// Credentials resolves credential names (e.g. "GOOGLE_API_KEY") to values.
// Values are only held in memory.
type Credentials interface {
	Lookup(name string) (string, bool)
}

// EnvCredentials reads credentials from the process environment.
type EnvCredentials struct{}

// Lookup returns the variable when it is set to a usable value.
func (EnvCredentials) Lookup(name string) (string, bool) {
	return usable(os.Getenv(name))
}

// StaticCredentials is an in-memory credential map.
type StaticCredentials map[string]string

// Lookup returns the mapped value when it is usable.
func (s StaticCredentials) Lookup(name string) (string, bool) {
	return usable(s[name])
}

func usable(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, placeholderKey) {
		return "", false
	}
	return v, true
}
