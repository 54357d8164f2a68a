package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

func scoreATSAlignmentTool() Tool {
	return Tool{
		Name: "score_ats_alignment",
		Description: "Scores how well the resume aligns with the job description for " +
			"applicant tracking systems (0-100) and lists keywords the resume is missing. " +
			"Requires both a resume and a job description.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"focus": {
					"type": "string",
					"description": "Optional area to weight: 'skills' restricts scoring to the skill keywords only"
				}
			},
			"additionalProperties": false
		}`),
		Run: func(_ context.Context, args map[string]any, tc ThreadContext) (string, error) {
			if strings.TrimSpace(tc.ResumeText) == "" {
				return "", fmt.Errorf("no resume uploaded for this thread")
			}
			if strings.TrimSpace(tc.JobText) == "" {
				return "", fmt.Errorf("no job description uploaded for this thread")
			}

			keywords := matchSkills(tc.JobText)
			if focus, _ := args["focus"].(string); focus == "" || focus != "skills" {
				// Beyond the skill lexicon, treat prominent capitalized
				// terms in the posting (certifications, product names) as
				// keywords too.
				keywords = append(keywords, properNouns(tc.JobText, keywords)...)
			}

			resumeLower := strings.ToLower(tc.ResumeText)
			var matched, missing []string
			for _, kw := range keywords {
				if containsSkill(resumeLower, strings.ToLower(kw)) {
					matched = append(matched, kw)
				} else {
					missing = append(missing, kw)
				}
			}

			score := 0
			if len(keywords) > 0 {
				score = int(math.Round(100 * float64(len(matched)) / float64(len(keywords))))
			}
			if matched == nil {
				matched = []string{}
			}
			if missing == nil {
				missing = []string{}
			}

			out, err := json.Marshal(map[string]any{
				"score":            score,
				"matched_keywords": matched,
				"missing_keywords": missing,
			})
			if err != nil {
				return "", fmt.Errorf("encoding score: %w", err)
			}
			return string(out), nil
		},
	}
}

// properNouns picks repeated capitalized terms from the posting that the
// skill lexicon didn't already cover. Single occurrences are ignored to
// avoid scoring on sentence-initial words.
func properNouns(text string, already []string) []string {
	covered := make(map[string]bool, len(already))
	for _, s := range already {
		covered[strings.ToLower(s)] = true
	}

	counts := make(map[string]int)
	for _, word := range strings.Fields(text) {
		word = strings.Trim(word, ".,;:()[]\"'")
		if len(word) < 3 || word[0] < 'A' || word[0] > 'Z' {
			continue
		}
		lower := strings.ToLower(word)
		if covered[lower] || commonWords[lower] {
			continue
		}
		counts[word]++
	}

	var nouns []string
	for word, n := range counts {
		if n >= 2 {
			nouns = append(nouns, word)
		}
	}
	// Deterministic output order for stable scores.
	sort.Strings(nouns)
	return nouns
}

// commonWords excludes frequent sentence-initial words from keyword
// candidates.
var commonWords = map[string]bool{
	"the": true, "you": true, "our": true, "and": true, "for": true,
	"with": true, "will": true, "this": true, "are": true, "your": true,
	"what": true, "who": true, "about": true, "were": true, "have": true,
	"responsibilities": true, "requirements": true, "qualifications": true,
	"experience": true, "years": true, "team": true, "work": true,
}
