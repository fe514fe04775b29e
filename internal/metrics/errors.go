package metrics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var friendlyAliases = map[string]string{
	"url.Error":                     "Request URL error",
	"net.OpError":                   "Network error",
	"net.DNSError":                  "DNS error",
	"context.deadlineExceededError": "Context deadline exceeded",
	"errors.errorString":            "Error",
	"errors.joinError":              "Error",
}

// categorized errors name their own report bucket.
type categorized interface {
	Category() string
}

// ErrorCategory maps a request failure to the bucket it is counted under.
func ErrorCategory(err error) string {
	if err == nil {
		return "Unknown error"
	}
	var c categorized
	if errors.As(err, &c) {
		return c.Category()
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Context deadline exceeded"
	case errors.Is(err, context.Canceled):
		return "Context canceled"
	}
	// Skip fmt.Errorf wrappers; the first concrete type names the failure.
	cause := err
	for {
		name := fmt.Sprintf("%T", cause)
		if !strings.HasPrefix(name, "*fmt.wrapError") {
			return FriendlyErrorName(name)
		}
		next := errors.Unwrap(cause)
		if next == nil {
			return FriendlyErrorName(name)
		}
		cause = next
	}
}

// FriendlyErrorName turns a Go error type name such as "*net.OpError" into a
// report label. Types outside package main keep their package as a suffix.
func FriendlyErrorName(typeName string) string {
	name := strings.TrimPrefix(strings.TrimSpace(typeName), "*")
	if name == "" {
		return "Unknown error"
	}
	if alias, ok := friendlyAliases[name]; ok {
		return alias
	}
	if idx := strings.LastIndex(name, "/"); idx != -1 {
		name = name[idx+1:]
	}

	pkg, typ, found := strings.Cut(name, ".")
	if !found {
		pkg, typ = "", name
	}
	label := strings.Join(splitWords(typ), " ")
	if label == "" {
		label = typ
	}
	if pkg == "" || pkg == "main" {
		return label
	}
	return label + " (" + pkg + ")"
}

// splitWords breaks a CamelCase identifier into capitalised words, keeping
// acronyms such as HTTP whole.
func splitWords(ident string) []string {
	runes := []rune(ident)
	var words []string
	begin := 0
	for i := 1; i <= len(runes); i++ {
		if i < len(runes) && !wordBoundary(runes, i) {
			continue
		}
		words = append(words, titleWord(string(runes[begin:i])))
		begin = i
	}
	return words
}

func wordBoundary(r []rune, i int) bool {
	prev, cur := r[i-1], r[i]
	switch {
	case unicode.IsUpper(cur) && unicode.IsLower(prev):
		return true
	case unicode.IsUpper(cur) && unicode.IsUpper(prev):
		return i+1 < len(r) && unicode.IsLower(r[i+1])
	case unicode.IsDigit(cur):
		return !unicode.IsDigit(prev)
	case unicode.IsDigit(prev):
		return true
	}
	return false
}

func titleWord(w string) string {
	if strings.ToUpper(w) == w {
		return w
	}
	runes := []rune(strings.ToLower(w))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
