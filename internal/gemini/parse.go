package gemini

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	errEmptyResponse = errors.New("no response text from model")

	fenceOpen      = regexp.MustCompile("(?i)^```(?:json)?\\s*")
	fenceClose     = regexp.MustCompile("\\s*```$")
	trailingCommas = regexp.MustCompile(`,\s*([}\]])`)
	smartQuotes    = strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'")
)

// parseJSON decodes a model response into T. Markdown fences are stripped;
// on failure common defects (smart quotes, trailing commas, surrounding
// prose) are repaired before retrying.
func parseJSON[T any](text string) (T, error) {
	var out T
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return out, errEmptyResponse
	}
	cleaned = fenceClose.ReplaceAllString(fenceOpen.ReplaceAllString(cleaned, ""), "")

	if err := json.Unmarshal([]byte(cleaned), &out); err == nil {
		return out, nil
	}

	repaired := trailingCommas.ReplaceAllString(smartQuotes.Replace(cleaned), "$1")
	if err := json.Unmarshal([]byte(repaired), &out); err == nil {
		return out, nil
	}

	start := strings.IndexAny(repaired, "{[")
	end := strings.LastIndexAny(repaired, "}]")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(repaired[start:end+1]), &out); err == nil {
			return out, nil
		}
	}
	return out, fmt.Errorf("parse model JSON: %.80q", cleaned)
}
