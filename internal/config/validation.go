package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/v2"
)

// Warning flags an unknown or deprecated key found in loaded configuration.
type Warning struct {
	Key         string
	Suggestions []string
	Deprecated  bool
}

func (w Warning) String() string {
	if w.Deprecated {
		return fmt.Sprintf("'%s' is deprecated, use '%s'", w.Key, strings.Join(w.Suggestions, "', '"))
	}
	msg := fmt.Sprintf("'%s' is not a known config key", w.Key)
	switch len(w.Suggestions) {
	case 0:
	case 1:
		msg += fmt.Sprintf(". Did you mean '%s'?", w.Suggestions[0])
	default:
		msg += ". Did you mean one of: " + strings.Join(w.Suggestions, ", ") + "?"
	}
	return msg
}

// Validate compares every key loaded into k against the registry.
func Validate(k *koanf.Koanf) []Warning {
	var warnings []Warning
	for _, key := range k.Keys() {
		if info, ok := Lookup(key); ok {
			if info.Deprecated {
				warnings = append(warnings, Warning{Key: key, Suggestions: []string{info.ReplacedBy}, Deprecated: true})
			}
			continue
		}
		if underRegisteredNamespace(key) {
			continue
		}
		warnings = append(warnings, Warning{Key: key, Suggestions: Similar(key, 3)})
	}
	return warnings
}

// FormatWarnings renders warnings as a single multi-line message, or "" when
// there are none.
func FormatWarnings(warnings []Warning) string {
	if len(warnings) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration warnings:\n")
	for _, w := range warnings {
		sb.WriteString("  - " + w.String() + "\n")
	}
	return sb.String()
}
