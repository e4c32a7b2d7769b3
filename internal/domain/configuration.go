package domain

import (
	"strconv"
	"strings"
)

const (
	KeyAccessKeyID     = "AWS_ACCESS_KEY_ID"
	KeySecretAccessKey = "AWS_SECRET_ACCESS_KEY"
	KeyRegion          = "AWS_REGION"
	KeyDefaultRegion   = "AWS_DEFAULT_REGION"
	KeyProfile         = "AWS_PROFILE"
)

// Configuration is the opaque set of deployment parameters submitted by a
// client. Keys are the provisioning CLI's variable names.
type Configuration map[string]string

// Lookup returns the value for key and whether it was supplied.
func (c Configuration) Lookup(key string) (string, bool) {
	if c == nil {
		return "", false
	}
	value, ok := c[key]
	return value, ok
}

// EnvOverrides returns the credential and region variables a spawned command
// must see, in a stable order. Keys missing from the configuration are not
// overridden.
func (c Configuration) EnvOverrides() []string {
	pairs := []struct {
		env    string
		source string
	}{
		{env: KeyAccessKeyID, source: KeyAccessKeyID},
		{env: KeySecretAccessKey, source: KeySecretAccessKey},
		{env: KeyRegion, source: KeyRegion},
		{env: KeyDefaultRegion, source: KeyRegion},
	}

	overrides := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		value, ok := c.Lookup(pair.source)
		if !ok {
			continue
		}
		overrides = append(overrides, pair.env+"="+value)
	}

	return overrides
}

// BuildEnv merges overrides into base. Later entries win, and an empty
// AWS_PROFILE is dropped so the SDKs do not try to resolve a blank profile.
func BuildEnv(base []string, overrides []string) []string {
	index := make(map[string]int, len(base)+len(overrides))
	env := make([]string, 0, len(base)+len(overrides))

	for _, entry := range append(append([]string{}, base...), overrides...) {
		key, _, _ := strings.Cut(entry, "=")
		if i, ok := index[key]; ok {
			env[i] = entry
			continue
		}
		index[key] = len(env)
		env = append(env, entry)
	}

	result := env[:0]
	for _, entry := range env {
		key, value, _ := strings.Cut(entry, "=")
		if key == KeyProfile && value == "" {
			continue
		}
		result = append(result, entry)
	}

	return result
}

// ConfigurationFromValues stringifies loosely typed values decoded from a
// client payload. Nil values count as absent.
func ConfigurationFromValues(values map[string]any) Configuration {
	cfg := make(Configuration, len(values))
	for key, raw := range values {
		switch v := raw.(type) {
		case nil:
			continue
		case string:
			cfg[key] = v
		case bool:
			cfg[key] = strconv.FormatBool(v)
		case float64:
			cfg[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case int64:
			cfg[key] = strconv.FormatInt(v, 10)
		case int:
			cfg[key] = strconv.Itoa(v)
		default:
			continue
		}
	}

	return cfg
}
