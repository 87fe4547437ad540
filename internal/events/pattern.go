package events

import (
	"fmt"
	"strings"
)

// pattern matches dot separated topics. "*" matches exactly one segment and a
// trailing ">" matches one or more remaining segments.
type pattern struct {
	raw      string
	segments []string
}

func compilePattern(raw string) (pattern, error) {
	if strings.TrimSpace(raw) == "" {
		return pattern{}, fmt.Errorf("empty topic pattern")
	}
	segments := strings.Split(raw, ".")
	for i, s := range segments {
		if s == "" {
			return pattern{}, fmt.Errorf("topic pattern %q has an empty segment", raw)
		}
		if s == ">" && i != len(segments)-1 {
			return pattern{}, fmt.Errorf("topic pattern %q: '>' is only allowed as the last segment", raw)
		}
	}
	return pattern{raw: raw, segments: segments}, nil
}

func (p pattern) match(topic string) bool {
	parts := strings.Split(topic, ".")
	for i, seg := range p.segments {
		if seg == ">" {
			return len(parts) > i
		}
		if i >= len(parts) {
			return false
		}
		if seg != "*" && seg != parts[i] {
			return false
		}
	}
	return len(parts) == len(p.segments)
}
