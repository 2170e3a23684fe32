package learning

import (
	"context"
	"fmt"
	"strings"

	"agent-memory-core/internal/analyzer"
	"agent-memory-core/internal/types"
)

// minExtractConfidence is the floor below which a candidate is rejected
// outright (spec.md §4.9).
const minExtractConfidence = 0.60

// jaccardDedupThreshold is the token-Jaccard similarity above which a new
// lesson is considered a near-duplicate of an existing episode.
const jaccardDedupThreshold = 0.85

// Extractor converts a Candidate into a storable Episode.
type Extractor struct {
	llm analyzer.ChatCompleter
}

// NewExtractor constructs an Extractor. llm may be nil, in which case the
// deterministic fallback lesson template is always used.
func NewExtractor(llm analyzer.ChatCompleter) *Extractor {
	return &Extractor{llm: llm}
}

// Extract converts c into an Episode, or returns ok=false if the candidate
// is rejected (confidence floor or abstraction test).
func (e *Extractor) Extract(ctx context.Context, c Candidate, existing []*types.Episode) (*types.Episode, bool) {
	if c.Confidence < minExtractConfidence {
		return nil, false
	}

	lesson := e.synthesizeLesson(ctx, c)
	if strings.TrimSpace(lesson) == strings.TrimSpace(c.Situation) {
		return nil, false
	}

	if isDuplicate(lesson, existing) {
		return nil, false
	}

	return &types.Episode{
		Situation:  c.Situation,
		Action:     c.Action,
		Outcome:    c.Outcome,
		Lesson:     lesson,
		Confidence: c.Confidence,
	}, true
}

// synthesizeLesson tries the LLM with a fixed prompt when available, falling
// back to the deterministic "Strategy: {action} leads to {outcome}" template
// (spec.md §4.9) on any failure.
func (e *Extractor) synthesizeLesson(ctx context.Context, c Candidate) string {
	fallback := fmt.Sprintf("Strategy: %s leads to %s", c.Action, c.Outcome)

	if e.llm == nil {
		return fallback
	}

	prompt := fmt.Sprintf("Summarize a generalizable lesson from this situation: %s; action: %s; outcome: %s", c.Situation, c.Action, c.Outcome)
	result, err := e.llm.Complete(ctx, prompt, 256)
	if err != nil || strings.TrimSpace(result) == "" {
		return fallback
	}
	return strings.TrimSpace(result)
}

func isDuplicate(lesson string, existing []*types.Episode) bool {
	candidateTokens := tokenize(lesson)
	for _, ep := range existing {
		if jaccard(candidateTokens, tokenize(ep.Lesson)) >= jaccardDedupThreshold {
			return true
		}
	}
	return false
}

func tokenize(s string) map[string]bool {
	fields := strings.Fields(strings.ToLower(s))
	out := make(map[string]bool, len(fields))
	for _, f := range fields {
		out[f] = true
	}
	return out
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	intersection := 0
	for tok := range a {
		if b[tok] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}
