package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// weakPhrases maps weak resume phrasing to stronger action verbs. Longer
// phrases are checked first so "responsible for" wins over "responsible".
var weakPhrases = []struct {
	weak         string
	replacements []string
}{
	{"was responsible for", []string{"led", "owned", "drove"}},
	{"responsible for", []string{"led", "owned", "drove"}},
	{"worked on", []string{"built", "developed", "delivered"}},
	{"helped with", []string{"contributed to", "accelerated", "supported"}},
	{"helped", []string{"enabled", "guided", "accelerated"}},
	{"was involved in", []string{"drove", "co-led", "shaped"}},
	{"participated in", []string{"contributed to", "co-authored", "shaped"}},
	{"assisted", []string{"supported", "enabled", "facilitated"}},
	{"handled", []string{"managed", "resolved", "administered"}},
	{"dealt with", []string{"resolved", "managed", "negotiated"}},
	{"made", []string{"created", "produced", "engineered"}},
	{"did", []string{"executed", "completed", "performed"}},
	{"used", []string{"applied", "leveraged", "utilized"}},
	{"tried to", []string{"worked to", "drove efforts to"}},
	{"in charge of", []string{"directed", "oversaw", "managed"}},
}

func suggestActionVerbsTool() Tool {
	return Tool{
		Name: "suggest_action_verbs",
		Description: "Finds weak verbs and passive phrasing in a resume section and " +
			"suggests stronger action verbs for each occurrence.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"section_text": {
					"type": "string",
					"description": "The resume section text to analyze. Omit to analyze the whole resume."
				}
			},
			"additionalProperties": false
		}`),
		Run: func(_ context.Context, args map[string]any, tc ThreadContext) (string, error) {
			text, _ := args["section_text"].(string)
			if strings.TrimSpace(text) == "" {
				text = tc.ResumeText
			}
			if strings.TrimSpace(text) == "" {
				return "", fmt.Errorf("no section text given and no resume uploaded")
			}

			suggestions := findWeakPhrases(text)
			out, err := json.Marshal(map[string]any{"suggestions": suggestions})
			if err != nil {
				return "", fmt.Errorf("encoding suggestions: %w", err)
			}
			return string(out), nil
		},
	}
}

type verbSuggestion struct {
	Weak         string   `json:"weak"`
	Replacements []string `json:"replacements"`
	Line         string   `json:"line"`
}

// findWeakPhrases scans line by line so each suggestion carries the bullet
// it came from. The first (longest) matching phrase per line position wins.
func findWeakPhrases(text string) []verbSuggestion {
	suggestions := []verbSuggestion{}
	for line := range strings.Lines(text) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		lower := strings.ToLower(trimmed)
		var covered [][2]int
		for _, wp := range weakPhrases {
			idx := strings.Index(lower, wp.weak)
			if idx < 0 || within(covered, idx) {
				continue
			}
			covered = append(covered, [2]int{idx, idx + len(wp.weak)})
			suggestions = append(suggestions, verbSuggestion{
				Weak:         wp.weak,
				Replacements: wp.replacements,
				Line:         clip(trimmed, 120),
			})
		}
	}
	return suggestions
}

// within reports whether pos falls inside an already-matched phrase, so
// "responsible for" does not also fire for "was responsible for".
func within(covered [][2]int, pos int) bool {
	for _, c := range covered {
		if pos >= c[0] && pos < c[1] {
			return true
		}
	}
	return false
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
