package config

import (
	"fmt"
	"strings"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
	Secret bool
}

// ShowAll returns all config key/value pairs from the current config.
// Secret values are reported only as set or unset.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		info := KeyInfo{Key: s.key, EnvVar: s.env, Secret: s.secret}
		switch v := s.extract(cfg).(type) {
		case string:
			info.Value = v
			if s.secret {
				info.Value = "(unset)"
				if v != "" {
					info.Value = "(set)"
				}
			}
		case []string:
			info.Value = strings.Join(v, ",")
		default:
			info.Value = fmt.Sprintf("%v", v)
		}
		result = append(result, info)
	}
	return result
}

// SetKey writes a config key to the platform backend.
func SetKey(key, value string) error {
	return setKey(newPlatformBackend(), key, value)
}

func setKey(b ConfigBackend, key, value string) error {
	s := specFor(key)
	if s == nil {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, s.env)
	}
	v, err := parseValue(s.typ, value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	switch s.typ {
	case kInt:
		return b.SetInt(key, v.(int))
	case kStrings:
		return b.SetString(key, strings.Join(v.([]string), ","))
	default:
		return b.SetString(key, value)
	}
}

// ValidKeys returns the list of valid non-secret config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
