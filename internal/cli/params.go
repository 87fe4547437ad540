package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ParseParams turns key=value arguments into tool parameters. Values that
// parse as JSON keep their JSON type (numbers, booleans, arrays, objects);
// everything else is a string. Surrounding quotes are stripped from string
// values. A value starting with @ is read from the named file.
func ParseParams(args []string) (map[string]any, error) {
	params := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", arg)
		}
		if _, dup := params[key]; dup {
			return nil, fmt.Errorf("parameter %q given more than once", key)
		}
		if strings.HasPrefix(value, "@") {
			data, err := os.ReadFile(value[1:])
			if err != nil {
				return nil, fmt.Errorf("reading value of %s: %w", key, err)
			}
			value = strings.TrimRight(string(data), "\n")
		}
		params[key] = parseValue(value)
	}
	return params, nil
}

func parseValue(value string) any {
	var v any
	if err := json.Unmarshal([]byte(value), &v); err == nil {
		return v
	}
	return stripQuotes(value)
}

func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// ParseParamsJSON decodes a JSON object given with --params and merges the
// key=value arguments over it.
func ParseParamsJSON(raw string, args []string) (map[string]any, error) {
	params := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return nil, fmt.Errorf("--params must be a JSON object: %w", err)
		}
		if params == nil {
			params = map[string]any{}
		}
	}
	kv, err := ParseParams(args)
	if err != nil {
		return nil, err
	}
	for k, v := range kv {
		params[k] = v
	}
	return params, nil
}
