// Package config holds the registry of known configuration keys and the
// helpers used to load and validate them.
package config

import (
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
)

// KeyInfo describes a known configuration key.
type KeyInfo struct {
	Key         string // Full dotted path, e.g. "saga.ttl".
	Description string
	Type        string // Type hint: "string", "int", "bool", "duration", "[]string".
	Default     any
	Deprecated  bool
	ReplacedBy  string
}

var (
	registry   = map[string]KeyInfo{}
	registryMu sync.RWMutex
)

// Register records one or more known keys. Registering a key twice replaces
// the earlier entry.
func Register(infos ...KeyInfo) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, info := range infos {
		registry[info.Key] = info
	}
}

// RegisterDeprecated marks oldKey as replaced by newKey.
func RegisterDeprecated(oldKey, newKey string) {
	Register(KeyInfo{Key: oldKey, Deprecated: true, ReplacedBy: newKey})
}

// Lookup returns metadata for a registered key.
func Lookup(key string) (KeyInfo, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	info, ok := registry[key]
	return info, ok
}

// Keys returns all registered keys, sorted.
func Keys() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Defaults returns the default value of every key that declares one.
func Defaults() map[string]any {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := map[string]any{}
	for k, info := range registry {
		if info.Default != nil {
			out[k] = info.Default
		}
	}
	return out
}

// Similar returns up to max registered keys within a small edit distance of
// key, closest first. Keys in the same namespace get a one point bonus.
func Similar(key string, max int) []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	type candidate struct {
		key   string
		score int
	}
	var found []candidate
	ns := namespace(key)
	for k := range registry {
		d := levenshtein.ComputeDistance(key, k)
		if d > 0 && ns != "" && ns == namespace(k) {
			d--
		}
		if d <= 3 {
			found = append(found, candidate{k, d})
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].score == found[j].score {
			return found[i].key < found[j].key
		}
		return found[i].score < found[j].score
	})

	out := make([]string, 0, max)
	for i := 0; i < len(found) && i < max; i++ {
		out = append(out, found[i].key)
	}
	return out
}

// underRegisteredNamespace reports whether some ancestor of key is itself a
// registered key, which allows free-form maps such as "oauth20.clients.*".
func underRegisteredNamespace(key string) bool {
	for ns := namespace(key); ns != ""; ns = namespace(ns) {
		if _, ok := Lookup(ns); ok {
			return true
		}
	}
	return false
}

func namespace(key string) string {
	i := strings.LastIndex(key, ".")
	if i == -1 {
		return ""
	}
	return key[:i]
}
