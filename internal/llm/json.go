package llm

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"
)

// ParseJSONResponse parses a JSON object from an LLM response. It handles
// markdown code fences and prose before or after the object.
func ParseJSONResponse(text string) map[string]any {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	// Strip markdown code fences
	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		endIdx := len(lines)
		for i := len(lines) - 1; i > 0; i-- {
			if strings.TrimSpace(lines[i]) == "```" {
				endIdx = i
				break
			}
		}
		text = strings.Join(lines[1:endIdx], "\n")
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(text), &result); err == nil {
		return result
	}

	// Fall back to the outermost {...} span.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), &result); err == nil {
			return result
		}
	}

	log.Debug().Int("len", len(text)).Msg("failed to parse LLM response as JSON")
	return nil
}

// StringField returns m[key] when it is a non-blank string.
func StringField(m map[string]any, key string) (string, bool) {
	v, ok := m[key].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}
