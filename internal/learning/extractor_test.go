package learning

import (
	"context"
	"testing"

	"agent-memory-core/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractRejectsBelowConfidenceFloor(t *testing.T) {
	e := NewExtractor(nil)
	_, ok := e.Extract(context.Background(), Candidate{
		Situation:  "s",
		Action:     "a",
		Outcome:    "o",
		Confidence: 0.5,
	}, nil)
	assert.False(t, ok)
}

func TestExtractUsesDeterministicFallbackTemplate(t *testing.T) {
	e := NewExtractor(nil)
	ep, ok := e.Extract(context.Background(), Candidate{
		Situation:  "the build failed repeatedly",
		Action:     "ran the linter first",
		Outcome:    "the build passed",
		Confidence: 0.8,
	}, nil)

	require.True(t, ok)
	assert.Equal(t, "Strategy: ran the linter first leads to the build passed", ep.Lesson)
	assert.Equal(t, "the build failed repeatedly", ep.Situation)
}

func TestExtractRejectsWhenLessonRestatesituation(t *testing.T) {
	e := NewExtractor(nil)
	_, ok := e.Extract(context.Background(), Candidate{
		Situation:  "Strategy: x leads to y",
		Action:     "x",
		Outcome:    "y",
		Confidence: 0.9,
	}, nil)
	assert.False(t, ok)
}

func TestExtractRejectsNearDuplicateLesson(t *testing.T) {
	e := NewExtractor(nil)
	existing := []*types.Episode{
		{Lesson: "Strategy: ran the linter first leads to the build passed"},
	}
	_, ok := e.Extract(context.Background(), Candidate{
		Situation:  "the build failed repeatedly",
		Action:     "ran the linter first",
		Outcome:    "the build passed",
		Confidence: 0.8,
	}, existing)
	assert.False(t, ok)
}

func TestExtractAcceptsDissimilarLesson(t *testing.T) {
	e := NewExtractor(nil)
	existing := []*types.Episode{
		{Lesson: "completely unrelated prior lesson about networking timeouts"},
	}
	ep, ok := e.Extract(context.Background(), Candidate{
		Situation:  "the build failed repeatedly",
		Action:     "ran the linter first",
		Outcome:    "the build passed",
		Confidence: 0.8,
	}, existing)
	require.True(t, ok)
	assert.NotNil(t, ep)
}

type failingCompleter struct{}

func (failingCompleter) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return "", assert.AnError
}

func TestExtractFallsBackWhenLLMFails(t *testing.T) {
	e := NewExtractor(failingCompleter{})
	ep, ok := e.Extract(context.Background(), Candidate{
		Situation:  "s",
		Action:     "retried the request",
		Outcome:    "it succeeded",
		Confidence: 0.9,
	}, nil)
	require.True(t, ok)
	assert.Equal(t, "Strategy: retried the request leads to it succeeded", ep.Lesson)
}

func TestJaccardSimilarity(t *testing.T) {
	a := tokenize("the quick brown fox")
	b := tokenize("the quick brown fox")
	assert.Equal(t, 1.0, jaccard(a, b))

	c := tokenize("completely different words here")
	assert.Less(t, jaccard(a, c), 0.2)
}
