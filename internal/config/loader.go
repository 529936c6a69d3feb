package config

import (
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables read into configuration.
const EnvPrefix = "OB__"

// ApplyDefaults sets registered defaults for keys not already present in k.
// It is safe to call more than once.
func ApplyDefaults(k *koanf.Koanf) {
	for key, val := range Defaults() {
		if !k.Exists(key) {
			_ = k.Set(key, val)
		}
	}
}

// SearchForConfig looks for filename in startDir and each of its parents,
// returning the first match or "".
func SearchForConfig(filename string, startDir string) string {
	d, err := filepath.Abs(startDir)
	if err != nil {
		return ""
	}
	for {
		p := filepath.Join(d, filename)
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(d)
		if parent == d {
			return ""
		}
		d = parent
	}
}

// TransformEnv maps an environment variable name onto a config key:
// OB__OAUTH20__ACCESS_TOKEN_EXPIRY becomes oauth20.accessTokenExpiry.
// Double underscores separate segments and single underscores start a new
// camelCase word.
func TransformEnv(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	segments := strings.Split(s, "__")
	for i, segment := range segments {
		words := strings.Split(segment, "_")
		for j := 1; j < len(words); j++ {
			words[j] = upperFirst(words[j])
		}
		segments[i] = strings.Join(words, "")
	}
	return strings.Join(segments, ".")
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
