// Package config loads run and server settings from flags, config files and the environment.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// lookupSetting returns the first candidate key present in settings. Viper
// folds keys to lower case, so each candidate is also tried in that form.
func lookupSetting(settings map[string]any, candidates ...string) (any, bool) {
	for _, key := range candidates {
		for _, k := range [2]string{key, strings.ToLower(key)} {
			if val, ok := settings[k]; ok {
				return val, true
			}
		}
	}
	return nil, false
}

// trimmed reports the trimmed text of a string value and whether value was one.
func trimmed(value any) (string, bool) {
	s, ok := value.(string)
	return strings.TrimSpace(s), ok
}

func asString(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return fmt.Sprint(value), nil
}

// number widens any Go numeric kind to float64.
func number(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func asInt(value any) (int, error) {
	if value == nil {
		return 0, nil
	}
	if n, ok := number(value); ok {
		return int(n), nil
	}
	s, ok := trimmed(value)
	if !ok {
		return 0, fmt.Errorf("unsupported numeric type %T", value)
	}
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func asFloat64(value any) (float64, error) {
	if value == nil {
		return 0, nil
	}
	if n, ok := number(value); ok {
		return n, nil
	}
	s, ok := trimmed(value)
	if !ok {
		return 0, fmt.Errorf("unsupported float type %T", value)
	}
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func asBool(value any) (bool, error) {
	if value == nil {
		return false, nil
	}
	if b, ok := value.(bool); ok {
		return b, nil
	}
	s, ok := trimmed(value)
	if !ok {
		return false, fmt.Errorf("unsupported boolean type %T", value)
	}
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}

// asDuration accepts Go duration strings. Bare numbers, typed or textual,
// count seconds.
func asDuration(value any) (time.Duration, error) {
	if value == nil {
		return 0, nil
	}
	if d, ok := value.(time.Duration); ok {
		return d, nil
	}
	if n, ok := number(value); ok {
		return time.Duration(int(n)) * time.Second, nil
	}
	s, ok := trimmed(value)
	if !ok {
		return 0, fmt.Errorf("unsupported duration type %T", value)
	}
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// toStringKeyMap accepts either map shape YAML decoders produce and folds the
// keys to trimmed lower case.
func toStringKeyMap(value any) (map[string]any, error) {
	out := map[string]any{}
	fold := func(k string) string { return strings.ToLower(strings.TrimSpace(k)) }
	switch v := value.(type) {
	case map[string]any:
		for k, val := range v {
			out[fold(k)] = val
		}
	case map[any]any:
		for k, val := range v {
			s, _ := asString(k)
			out[fold(s)] = val
		}
	default:
		return nil, fmt.Errorf("expected map, got %T", value)
	}
	return out, nil
}
