// Package learning implements the AutoLearningTracker + LearningExtractor
// described in spec.md §4.9: a ring buffer of OperationRecords, pattern and
// task-completion detectors, and the conversion of a fired candidate into a
// storable Episode with Jaccard-similarity dedup against existing episodes.
package learning

import (
	"fmt"
	"strings"
	"sync"

	"agent-memory-core/internal/types"
)

// ringBufferCap bounds the tracker's OperationRecord history.
const ringBufferCap = 100

// Mode selects which detectors are armed.
type Mode string

const (
	ModeAggressive Mode = "aggressive"
	ModeModerate   Mode = "moderate"
	ModeMinimal    Mode = "minimal"
)

// CandidateKind distinguishes the two detector families.
type CandidateKind string

const (
	CandidateTaskCompletion CandidateKind = "task_completion"
	CandidatePattern        CandidateKind = "pattern"
)

// Candidate is a detector's proposal for a new episode, before extraction.
type Candidate struct {
	Kind       CandidateKind
	Situation  string
	Action     string
	Outcome    string
	Confidence float64
}

// Tracker holds the ring buffer of recent operations for one project and
// runs the detectors after every tracked op.
type Tracker struct {
	mu      sync.Mutex
	mode    Mode
	enabled bool
	buffer  []types.OperationRecord
}

// NewTracker constructs a Tracker. enabled mirrors the global
// automatic_learning.enabled config flag.
func NewTracker(mode Mode, enabled bool) *Tracker {
	return &Tracker{mode: mode, enabled: enabled}
}

// Record appends op to the ring buffer (evicting the oldest entry once full)
// and runs the detectors, returning any candidates that fired. autoLearn is
// the per-call override; when false, Record is a no-op regardless of the
// tracker's global enabled flag.
func (t *Tracker) Record(op types.OperationRecord, autoLearn bool) []Candidate {
	if !t.enabled || !autoLearn {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.buffer = append(t.buffer, op)
	if len(t.buffer) > ringBufferCap {
		t.buffer = t.buffer[len(t.buffer)-ringBufferCap:]
	}

	var candidates []Candidate
	if c, ok := t.detectTaskCompletion(); ok {
		candidates = append(candidates, c)
	}
	candidates = append(candidates, t.detectPatterns()...)
	return candidates
}

// detectTaskCompletion implements spec.md §4.9's 3-op task-completion rule.
func (t *Tracker) detectTaskCompletion() (Candidate, bool) {
	if len(t.buffer) < 3 {
		return Candidate{}, false
	}
	window := t.buffer[len(t.buffer)-3:]

	for _, op := range window {
		if op.Result != types.OperationSuccess {
			return Candidate{}, false
		}
	}

	sameIngestTool := window[0].ToolName == window[1].ToolName &&
		window[1].ToolName == window[2].ToolName &&
		strings.Contains(window[0].ToolName, "ingest")

	hasSearch, hasContextGet, hasWriteOrEdit := false, false, false
	for _, op := range window {
		switch {
		case strings.Contains(op.ToolName, "search"):
			hasSearch = true
		case strings.Contains(op.ToolName, "get_context"):
			hasContextGet = true
		case strings.Contains(op.ToolName, "write") || strings.Contains(op.ToolName, "edit") || strings.Contains(op.ToolName, "add_"):
			hasWriteOrEdit = true
		}
	}
	workflowShape := hasSearch && hasContextGet && hasWriteOrEdit

	if !sameIngestTool && !workflowShape {
		return Candidate{}, false
	}

	return Candidate{
		Kind:       CandidateTaskCompletion,
		Situation:  fmt.Sprintf("Completed a sequence of %d related operations", len(window)),
		Action:     fmt.Sprintf("Ran %s then %s then %s", window[0].ToolName, window[1].ToolName, window[2].ToolName),
		Outcome:    "All operations in the sequence succeeded",
		Confidence: 0.75,
	}, true
}

// detectPatterns implements spec.md §4.9's error-streak and aggressive-mode
// success-streak pattern detectors.
func (t *Tracker) detectPatterns() []Candidate {
	var out []Candidate

	if len(t.buffer) >= 2 {
		last := t.buffer[len(t.buffer)-2:]
		if last[0].ToolName == last[1].ToolName &&
			last[0].Result == types.OperationError && last[1].Result == types.OperationError {
			out = append(out, Candidate{
				Kind:       CandidatePattern,
				Situation:  fmt.Sprintf("Repeated failures calling %s", last[0].ToolName),
				Action:     fmt.Sprintf("Called %s consecutively", last[0].ToolName),
				Outcome:    "Both calls failed",
				Confidence: 0.85,
			})
		}
	}

	if t.mode == ModeAggressive && len(t.buffer) >= 5 {
		last3 := t.buffer[len(t.buffer)-3:]
		if last3[0].ToolName == last3[1].ToolName && last3[1].ToolName == last3[2].ToolName &&
			allSuccess(last3) {
			out = append(out, Candidate{
				Kind:       CandidatePattern,
				Situation:  fmt.Sprintf("Repeated successful use of %s", last3[0].ToolName),
				Action:     fmt.Sprintf("Called %s three times in a row", last3[0].ToolName),
				Outcome:    "All three calls succeeded",
				Confidence: 0.80,
			})
		}
	}

	return out
}

func allSuccess(ops []types.OperationRecord) bool {
	for _, op := range ops {
		if op.Result != types.OperationSuccess {
			return false
		}
	}
	return true
}
