// Package prompt assembles the coach's system instructions together with
// the thread's current artifact text, under a token budget.
package prompt

import (
	"strings"
)

const defaultMaxContextTokens = 6000

// minArtifactTokens is the smallest budget worth injecting an artifact
// fragment for; below this a clipped block carries no useful signal.
const minArtifactTokens = 100

const coachInstructions = `You are Resummate, an expert resume coach. You help the user improve
their resume through specific, actionable feedback: section-level
critique, stronger phrasing, and alignment with the target role.

Guidelines:
- Ground every suggestion in the resume text provided below. Never invent
  experience the user does not have.
- When a job description is available, prioritize alignment with it and
  call out missing keywords.
- Use the provided analysis tools when a question calls for scoring,
  verb suggestions, or skill extraction, and weave their output into a
  conversational answer.
- Be encouraging but direct. Quote the exact resume line you are
  commenting on.`

// Composer builds the system message for a turn. MaxContextTokens bounds
// the injected artifact text; the resume is prioritized over the job
// description when the budget is tight.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected artifact
// text. If maxContextTokens <= 0, the default (6000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// System returns the full system message for a turn: coach instructions
// plus the current resume and job-description text, each clipped to fit
// the budget.
func (c *Composer) System(resumeText, jobText string) string {
	var sb strings.Builder
	sb.WriteString(coachInstructions)

	remaining := c.MaxContextTokens

	if strings.TrimSpace(resumeText) != "" {
		block := clipToTokens(resumeText, remaining)
		remaining -= EstimateTokens(block)
		sb.WriteString("\n\n[Resume]\n")
		sb.WriteString(block)
	} else {
		sb.WriteString("\n\n[Resume]\n(no resume uploaded yet — ask the user to upload one before giving detailed feedback)")
	}

	if strings.TrimSpace(jobText) != "" && remaining >= minArtifactTokens {
		block := clipToTokens(jobText, remaining)
		sb.WriteString("\n\n[Job Description]\n")
		sb.WriteString(block)
	}

	return sb.String()
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// clipToTokens truncates text to approximately the given token budget,
// cutting at a line boundary where possible.
func clipToTokens(text string, tokens int) string {
	maxBytes := tokens * 4
	if len(text) <= maxBytes {
		return text
	}
	clipped := text[:maxBytes]
	if idx := strings.LastIndexByte(clipped, '\n'); idx > maxBytes/2 {
		clipped = clipped[:idx]
	}
	return clipped + "\n[…truncated]"
}
