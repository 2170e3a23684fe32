// Package analyzer implements the ConversationAnalyzer described in
// spec.md §4.8: heuristic regex extraction of facts and episodes from a
// conversational turn, with an optional budgeted LLM extraction pass,
// grounded in the teacher's regex-table extraction style from
// internal/chunking/chunker.go.
package analyzer

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// extractionSource names which pass produced a candidate, so
// scoreConfidence can apply its per-source adjustment.
type extractionSource string

const (
	sourceHeuristic extractionSource = "heuristic"
	sourceLLM       extractionSource = "llm"
)

// ExtractedFact is a candidate symbolic fact pulled from a conversation turn.
type ExtractedFact struct {
	Key        string
	Value      string
	Category   string
	Confidence float64
	Source     string
}

// ExtractedEpisode is a candidate episodic lesson pulled from a conversation
// turn.
type ExtractedEpisode struct {
	Title      string
	Lesson     string
	Confidence float64
	Source     string
}

// Result is the union of everything one Analyze call produced.
type Result struct {
	Facts    []ExtractedFact
	Episodes []ExtractedEpisode
}

// factPattern pairs a named regex with the category and base confidence its
// matches should carry.
type factPattern struct {
	name       string
	pattern    *regexp.Regexp
	category   string
	confidence float64
}

// episodePattern pairs a named regex with the base confidence its matches
// should carry.
type episodePattern struct {
	name       string
	pattern    *regexp.Regexp
	confidence float64
}

const (
	heuristicFactConfidence    = 0.85
	heuristicEpisodeConfidence = 0.75
)

var factPatterns = []factPattern{
	{"api_endpoint", regexp.MustCompile(`(?i)\b(?:endpoint|api route)\s+(?:is|:)\s*([^\n.]+)`), "fact", heuristicFactConfidence},
	{"version", regexp.MustCompile(`(?i)\b(?:version|v)\s*:?\s*(\d+\.\d+(?:\.\d+)?)`), "fact", heuristicFactConfidence},
	{"preference", regexp.MustCompile(`(?i)\bi (?:prefer|like|want)\s+([^\n.]+)`), "preference", heuristicFactConfidence},
	{"decision", regexp.MustCompile(`(?i)\b(?:we|i) (?:decided|chose|will use)\s+([^\n.]+)`), "decision", heuristicFactConfidence},
	{"constraint", regexp.MustCompile(`(?i)\b(?:must not|cannot|should never)\s+([^\n.]+)`), "constraint", heuristicFactConfidence},
}

var episodePatterns = []episodePattern{
	{"workaround", regexp.MustCompile(`(?i)\bworkaround(?:ed)?\s*:?\s*([^\n.]+)`), heuristicEpisodeConfidence},
	{"mistake", regexp.MustCompile(`(?i)\bmistake(?:nly)?\s*:?\s*([^\n.]+)`), heuristicEpisodeConfidence},
	{"lesson", regexp.MustCompile(`(?i)\blesson(?:s)? learned\s*:?\s*([^\n.]+)`), heuristicEpisodeConfidence},
	{"recommendation", regexp.MustCompile(`(?i)\brecommend(?:ed|ation)?\s*:?\s*([^\n.]+)`), heuristicEpisodeConfidence},
	{"success", regexp.MustCompile(`(?i)\bsuccessfully\s+([^\n.]+)`), heuristicEpisodeConfidence},
}

// ChatCompleter is the optional LLM capability used by the LLM extraction
// mode. Implementations are expected to return a JSON object matching
// Result's shape; Analyze treats any error as DependencyUnavailable and
// falls back to the heuristic-only result.
type ChatCompleter interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Analyzer extracts candidate facts and episodes from conversation turns.
type Analyzer struct {
	llm                 ChatCompleter
	maxTokensPerMessage int
	maxTokensPerSession int
	sessionTokensUsed   int
}

// New constructs an Analyzer. llm may be nil, in which case only the
// heuristic mode is ever used.
func New(llm ChatCompleter, maxTokensPerMessage, maxTokensPerSession int) *Analyzer {
	return &Analyzer{llm: llm, maxTokensPerMessage: maxTokensPerMessage, maxTokensPerSession: maxTokensPerSession}
}

// Analyze extracts facts and episodes from a conversational turn using the
// requested extraction mode ("heuristic" or "llm").
func (a *Analyzer) Analyze(ctx context.Context, userMessage, agentResponse, extraContext string, mode string) Result {
	heuristic := a.analyzeHeuristic(userMessage + "\n" + agentResponse + "\n" + extraContext)

	if mode != "llm" || a.llm == nil {
		return score(heuristic)
	}

	if a.maxTokensPerMessage > 0 && a.sessionTokensUsed+a.maxTokensPerMessage > a.maxTokensPerSession {
		return score(heuristic)
	}

	llmResult, ok := a.analyzeLLM(ctx, userMessage, agentResponse, extraContext)
	if !ok {
		return score(heuristic)
	}
	a.sessionTokensUsed += a.maxTokensPerMessage

	return score(union(heuristic, llmResult))
}

func (a *Analyzer) analyzeHeuristic(text string) Result {
	var result Result

	for _, fp := range factPatterns {
		matches := fp.pattern.FindAllStringSubmatch(text, -1)
		for _, m := range matches {
			if len(m) < 2 {
				continue
			}
			result.Facts = append(result.Facts, ExtractedFact{
				Key:        fp.name,
				Value:      strings.TrimSpace(m[1]),
				Category:   fp.category,
				Confidence: fp.confidence,
				Source:     string(sourceHeuristic),
			})
		}
	}

	for _, ep := range episodePatterns {
		matches := ep.pattern.FindAllStringSubmatch(text, -1)
		for _, m := range matches {
			if len(m) < 2 {
				continue
			}
			result.Episodes = append(result.Episodes, ExtractedEpisode{
				Title:      ep.name,
				Lesson:     strings.TrimSpace(m[1]),
				Confidence: ep.confidence,
				Source:     string(sourceHeuristic),
			})
		}
	}

	return result
}

// llmExtraction is the structured JSON shape a ChatCompleter is expected to
// return for the LLM extraction mode: one object each per extracted fact and
// episode, mirroring ExtractedFact/ExtractedEpisode's fields minus Source
// (always "llm" for this pass).
type llmExtraction struct {
	Facts []struct {
		Key        string  `json:"key"`
		Value      string  `json:"value"`
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	} `json:"facts"`
	Episodes []struct {
		Title      string  `json:"title"`
		Lesson     string  `json:"lesson"`
		Confidence float64 `json:"confidence"`
	} `json:"episodes"`
}

// analyzeLLM issues at most one extraction call and parses the model's
// structured JSON output into Result; a call failure or unparsable response
// degrades to the heuristic result (spec.md §7 DependencyUnavailable
// handling).
func (a *Analyzer) analyzeLLM(ctx context.Context, userMessage, agentResponse, extraContext string) (Result, bool) {
	prompt := "Extract facts and episodes as JSON from this exchange:\nUSER: " + userMessage + "\nAGENT: " + agentResponse + "\nCONTEXT: " + extraContext
	response, err := a.llm.Complete(ctx, prompt, a.maxTokensPerMessage)
	if err != nil {
		return Result{}, false
	}

	var parsed llmExtraction
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return Result{}, false
	}

	var result Result
	for _, f := range parsed.Facts {
		if strings.TrimSpace(f.Key) == "" {
			continue
		}
		result.Facts = append(result.Facts, ExtractedFact{
			Key:        f.Key,
			Value:      f.Value,
			Category:   f.Category,
			Confidence: f.Confidence,
			Source:     string(sourceLLM),
		})
	}
	for _, e := range parsed.Episodes {
		if strings.TrimSpace(e.Lesson) == "" {
			continue
		}
		result.Episodes = append(result.Episodes, ExtractedEpisode{
			Title:      e.Title,
			Lesson:     e.Lesson,
			Confidence: e.Confidence,
			Source:     string(sourceLLM),
		})
	}

	return result, true
}

func union(a, b Result) Result {
	return Result{
		Facts:    append(append([]ExtractedFact{}, a.Facts...), b.Facts...),
		Episodes: append(append([]ExtractedEpisode{}, a.Episodes...), b.Episodes...),
	}
}

// heuristicConfidenceBoost is the "small boost" spec.md §4.8 grants matches
// that came from the always-available heuristic pass over matches an LLM
// call produced, reflecting that a regex hit on a known pattern is a more
// reliable signal than a free-form model extraction.
const heuristicConfidenceBoost = 0.05

// scoreConfidence implements spec.md §4.8's score_confidence(learning):
// heuristic-sourced matches get a small confidence boost, capped at 1.0;
// every other source passes through unchanged.
func scoreConfidence(source string, confidence float64) float64 {
	if source != string(sourceHeuristic) {
		return confidence
	}
	boosted := confidence + heuristicConfidenceBoost
	if boosted > 1.0 {
		return 1.0
	}
	return boosted
}

// score applies scoreConfidence to every fact/episode in r, producing the
// "final output" spec.md §4.8 describes.
func score(r Result) Result {
	out := Result{
		Facts:    make([]ExtractedFact, len(r.Facts)),
		Episodes: make([]ExtractedEpisode, len(r.Episodes)),
	}
	for i, f := range r.Facts {
		f.Confidence = scoreConfidence(f.Source, f.Confidence)
		out.Facts[i] = f
	}
	for i, e := range r.Episodes {
		e.Confidence = scoreConfidence(e.Source, e.Confidence)
		out.Episodes[i] = e
	}
	return out
}

// DedupMode enumerates the deduplication window strategy.
type DedupMode string

const (
	DedupPerSession DedupMode = "per_session"
	DedupPerDay     DedupMode = "per_day"
	DedupGlobal     DedupMode = "global"
)

// Deduper tracks per-key occurrence timestamps to implement spec.md §4.8's
// deduplication windows.
type Deduper struct {
	mode       DedupMode
	windowDays int
	seen       map[string][]time.Time
}

// NewDeduper constructs a Deduper in the given mode with a window (in days)
// used only by DedupPerDay.
func NewDeduper(mode DedupMode, windowDays int) *Deduper {
	if windowDays <= 0 {
		windowDays = 7
	}
	return &Deduper{mode: mode, windowDays: windowDays, seen: map[string][]time.Time{}}
}

// Admit reports whether key should be accepted at time now, recording the
// occurrence regardless (so frequency can still be reinforced across days
// even when a given day's occurrence is rejected).
func (d *Deduper) Admit(key string, now time.Time) bool {
	history := d.seen[key]
	defer func() { d.seen[key] = append(d.seen[key], now) }()

	if d.mode == DedupPerDay {
		cutoff := now.AddDate(0, 0, -d.windowDays)
		kept := history[:0]
		for _, t := range history {
			if !t.Before(cutoff) {
				kept = append(kept, t)
			}
		}
		history = kept
		d.seen[key] = kept
	}

	if len(history) == 0 {
		return true
	}

	switch d.mode {
	case DedupGlobal:
		return false
	case DedupPerSession:
		return false
	default: // DedupPerDay
		for _, t := range history {
			if sameDay(t, now) {
				return false
			}
		}
		return true
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
