package obsidian

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ConfigError describes a configuration value that is out of range.
type ConfigError struct {
	Key     string
	Message string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Message)
}

// ConfigErrors collects every invalid configuration value.
type ConfigErrors []ConfigError

func (e ConfigErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("invalid configuration:")
	for _, err := range e {
		sb.WriteString("\n  - " + err.Error())
	}
	return sb.String()
}

type configRule struct {
	key   string
	check func(key string) error
}

var configRules = []configRule{
	{"address", urlValue},
	{"server.port", intRange(1, 65535)},
	{"server.shutdownTimeout", positiveDuration},
	{"server.security.corsMaxAge", nonNegativeDuration},
	{"eventbus.workers", intRange(0, 10_000)},
	{"saga.ttl", positiveDuration},
	{"saga.sweepInterval", positiveDuration},
	{"saga.shards", intRange(1, 4096)},
	{"oauth20.codeExpiry", positiveDuration},
	{"oauth20.accessTokenExpiry", positiveDuration},
	{"oauth20.refreshTokenExpiry", positiveDuration},
	{"oauth20.contextExpiry", positiveDuration},
	{"identity.expiration", positiveDuration},
}

// CheckConfig validates the loaded configuration, returning ConfigErrors
// when any value is unusable. Keys that are not set are skipped.
func CheckConfig() error {
	var errs ConfigErrors
	for _, r := range configRules {
		if !Config.Exists(r.key) {
			continue
		}
		if err := r.check(r.key); err != nil {
			errs = append(errs, ConfigError{Key: r.key, Message: err.Error()})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func intRange(lo, hi int) func(string) error {
	return func(key string) error {
		if v := Config.Int(key); v < lo || v > hi {
			return fmt.Errorf("must be between %d and %d, got %q", lo, hi, Config.String(key))
		}
		return nil
	}
}

func positiveDuration(key string) error {
	if Config.Duration(key) <= 0 {
		return fmt.Errorf("must be a positive duration, got %q", Config.String(key))
	}
	return nil
}

func nonNegativeDuration(key string) error {
	if d := Config.Duration(key); d < 0 {
		return fmt.Errorf("must not be negative, got %s", d.Round(time.Second))
	}
	return nil
}

func urlValue(key string) error {
	u, err := url.Parse(Config.String(key))
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL, got %q", Config.String(key))
	}
	return nil
}
