package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// cleanLLMResponse strips markdown code fences and isolates the first
// balanced JSON value from a raw model reply.
func cleanLLMResponse(resp string) string {
	cleaned := strings.TrimSpace(resp)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}

// parseJSONObject parses a model reply into a generic map, tolerating
// fences and leading/trailing prose around the object.
func parseJSONObject(resp string) (map[string]any, error) {
	cleaned := cleanLLMResponse(resp)
	if jsonStr, ok := extractFirstJSON(cleaned, '{', '}'); ok {
		cleaned = jsonStr
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(cleaned), &obj); err != nil {
		return nil, fmt.Errorf("malformed model JSON: %w", err)
	}
	return obj, nil
}

// parseJSONArray parses a model reply expected to hold a JSON array.
func parseJSONArray(resp string) ([]any, error) {
	cleaned := cleanLLMResponse(resp)
	if jsonStr, ok := extractFirstJSON(cleaned, '[', ']'); ok {
		cleaned = jsonStr
	}
	var arr []any
	if err := json.Unmarshal([]byte(cleaned), &arr); err != nil {
		return nil, fmt.Errorf("malformed model JSON: %w", err)
	}
	return arr, nil
}

// extractFirstJSON finds the first outermost balanced open...close run,
// skipping brackets inside string literals.
func extractFirstJSON(s string, open, closing byte) (string, bool) {
	start := strings.IndexByte(s, open)
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		char := s[i]

		if escaped {
			escaped = false
			continue
		}
		if char == '\\' {
			escaped = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}
		if !inString {
			if char == open {
				depth++
			} else if char == closing {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}

// safeGet looks up key in a model-produced object, tolerating the stray
// quote characters some models embed in key names: the bare key, the
// double-quoted and the single-quoted variants are all tried. When every
// variant misses, the available keys are logged to ease prompt debugging.
func safeGet(obj map[string]any, key string, log *zap.Logger) (any, bool) {
	variants := []string{
		key,
		`"` + key + `"`,
		`'` + key + `'`,
	}
	for _, k := range variants {
		if v, ok := obj[k]; ok {
			return v, true
		}
	}
	if log != nil {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		log.Debug("response key missing",
			zap.String("key", key),
			zap.Strings("available", keys))
	}
	return nil, false
}

// stringField extracts a trimmed non-empty string for key, nil otherwise.
// Literal "null"/"none" replies count as absent.
func stringField(obj map[string]any, key string, log *zap.Logger) *string {
	v, ok := safeGet(obj, key, log)
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "null", "none", "n/a":
		return nil
	}
	return &s
}

// boolField extracts a boolean for key, tolerating "true"/"false" strings.
func boolField(obj map[string]any, key string, log *zap.Logger) (bool, bool) {
	v, ok := safeGet(obj, key, log)
	if !ok {
		return false, false
	}
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes":
			return true, true
		case "false", "no":
			return false, true
		}
	}
	return false, false
}
