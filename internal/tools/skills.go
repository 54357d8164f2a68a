package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// skillLexicon lists skills recognized in job descriptions, grouped
// loosely by theme. Matching is case-insensitive on word boundaries;
// multi-word entries match as phrases.
var skillLexicon = []string{
	// Languages
	"go", "golang", "python", "java", "javascript", "typescript", "c++", "c#",
	"rust", "ruby", "kotlin", "swift", "scala", "sql", "bash", "php",
	// Backend & infra
	"kubernetes", "docker", "terraform", "aws", "gcp", "azure", "linux",
	"microservices", "grpc", "rest", "graphql", "kafka", "rabbitmq", "redis",
	"postgresql", "postgres", "mysql", "sqlite", "mongodb", "elasticsearch",
	"ci/cd", "git", "prometheus", "grafana", "nginx",
	// Practices
	"agile", "scrum", "tdd", "unit testing", "code review", "distributed systems",
	"system design", "api design", "performance tuning", "observability",
	"incident response", "on-call", "mentoring", "technical leadership",
	// Data & ML
	"machine learning", "data analysis", "etl", "spark", "pandas", "airflow",
	// Front end
	"react", "vue", "angular", "html", "css", "next.js", "node.js",
}

// canonical maps lexicon aliases to a single reported spelling.
var canonical = map[string]string{
	"golang":   "go",
	"postgres": "postgresql",
}

func extractRequiredSkillsTool() Tool {
	return Tool{
		Name:        "extract_required_skills",
		Description: "Extracts the set of skills the job description asks for. Requires an uploaded job description.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {},
			"additionalProperties": false
		}`),
		Run: func(_ context.Context, _ map[string]any, tc ThreadContext) (string, error) {
			if strings.TrimSpace(tc.JobText) == "" {
				return "", fmt.Errorf("no job description uploaded for this thread")
			}
			skills := matchSkills(tc.JobText)
			out, err := json.Marshal(map[string]any{"skills": skills})
			if err != nil {
				return "", fmt.Errorf("encoding skills: %w", err)
			}
			return string(out), nil
		},
	}
}

// matchSkills returns lexicon entries present in text, deduplicated via
// canonical spellings, in lexicon order.
func matchSkills(text string) []string {
	lower := strings.ToLower(text)

	seen := make(map[string]bool)
	var skills []string
	for _, skill := range skillLexicon {
		if !containsSkill(lower, skill) {
			continue
		}
		name := skill
		if c, ok := canonical[skill]; ok {
			name = c
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		skills = append(skills, name)
	}
	if skills == nil {
		skills = []string{}
	}
	return skills
}

var (
	plainSkill = regexp.MustCompile(`^[a-z0-9 ]+$`)
	skillRE    = func() map[string]*regexp.Regexp {
		m := make(map[string]*regexp.Regexp, len(skillLexicon))
		for _, s := range skillLexicon {
			if plainSkill.MatchString(s) {
				m[s] = regexp.MustCompile(`\b` + regexp.QuoteMeta(s) + `\b`)
			}
		}
		return m
	}()
)

// containsSkill reports whether skill occurs in lowered text on word
// boundaries. Skills with non-word characters (c++, ci/cd, next.js) fall
// back to plain substring search since \b misbehaves around them.
func containsSkill(lower, skill string) bool {
	if re, ok := skillRE[skill]; ok {
		return re.MatchString(lower)
	}
	return strings.Contains(lower, skill)
}
