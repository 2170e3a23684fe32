// Package retrieval implements the Retriever described in spec.md §4.6:
// trigger-gated semantic search with a fixed ranking formula and optional
// deterministic query expansion, grounded in the teacher's ranking-signal
// style from internal/decay/summarizer.go (cosine similarity) generalized
// to the broader metadata/recency boost formula this spec requires.
package retrieval

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"agent-memory-core/internal/embeddings"
	"agent-memory-core/internal/errs"
	"agent-memory-core/internal/semantic"
	"agent-memory-core/internal/types"
)

const component = "retrieval"

// RecencyDecayDays is the window over which recency_boost decays linearly
// from 1.0 (now) to 0.0.
const RecencyDecayDays = 30.0

var codeKeywords = regexp.MustCompile(`(?i)\b(function|class|api|method|implement|code)\b`)

// Retriever ties an Embedder to a SemanticStore and enforces the trigger
// gate and ranking formula.
type Retriever struct {
	store    semantic.Store
	embedder embeddings.Embedder
}

// New constructs a Retriever.
func New(store semantic.Store, embedder embeddings.Embedder) *Retriever {
	return &Retriever{store: store, embedder: embedder}
}

// Options configures a single Search call.
type Options struct {
	Trigger            types.Trigger
	TopK               int
	Filters            map[string]interface{}
	MinScore           float64
	QueryExpansion     bool
	NumExpansions      int
}

// Search validates the trigger, embeds the query (and any deterministic
// expansions), runs the store search, re-ranks with the fixed formula, and
// returns the top K results.
func (r *Retriever) Search(ctx context.Context, query string, opts Options) ([]types.SearchResult, error) {
	if !types.ValidTriggers[opts.Trigger] {
		return nil, errs.New(errs.KindInvalidTrigger, component, "Search", "trigger must be one of the closed set of retrieval triggers")
	}

	queries := []string{query}
	if opts.QueryExpansion {
		queries = append(queries, expand(query, opts.NumExpansions)...)
	}

	// Fetch a generous candidate pool from the store before re-ranking, since
	// the store's own ordering (raw cosine) can differ from the final
	// weighted score.
	candidatePool := opts.TopK * 4
	if candidatePool < 50 {
		candidatePool = 50
	}

	best := map[string]types.SearchResult{}
	for _, q := range queries {
		vec, err := r.embedder.EmbedSingle(ctx, q)
		if err != nil {
			return nil, errs.Wrap(errs.KindDependencyUnavailable, component, "Search", "failed to embed query", err)
		}

		raw, err := r.store.Search(ctx, vec, candidatePool, opts.Filters, 0.0)
		if err != nil {
			return nil, err
		}

		for _, res := range raw {
			ranked := rank(res, q)
			existing, ok := best[res.ChunkID]
			if !ok || ranked.Score > existing.Score {
				best[res.ChunkID] = ranked
			}
		}
	}

	var out []types.SearchResult
	for _, res := range best {
		if res.Score >= opts.MinScore {
			out = append(out, res)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	topK := opts.TopK
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// rank recomputes the fixed-weight score from the raw cosine similarity
// (carried as res.Score from the store) plus metadata and recency boosts,
// per spec.md §4.6's `score = 0.7*sim + 0.2*metadata_boost + 0.1*recency_boost`.
func rank(res types.SearchResult, query string) types.SearchResult {
	sim := res.Score
	metaBoost := metadataBoost(res, query)
	recencyBoost := recencyBoost(res.Metadata)

	res.Score = 0.7*sim + 0.2*metaBoost + 0.1*recencyBoost
	return res
}

func metadataBoost(res types.SearchResult, query string) float64 {
	boost := 0.0
	lowerQuery := strings.ToLower(query)

	chunkType, _ := res.Metadata["type"].(string)
	if codeKeywords.MatchString(lowerQuery) && chunkType == "code" {
		boost += 0.3
	}

	source, _ := res.Metadata["source"].(string)
	if strings.Contains(strings.ToLower(source), "code") {
		boost += 0.2
	}
	if source != "" && strings.Contains(lowerQuery, strings.ToLower(source)) {
		boost += 0.2
	}

	if boost > 1.0 {
		boost = 1.0
	}
	return boost
}

func recencyBoost(metadata map[string]interface{}) float64 {
	raw, ok := metadata["created_at"]
	if !ok {
		return 0.0
	}

	var created time.Time
	switch v := raw.(type) {
	case time.Time:
		created = v
	case string:
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return 0.0
		}
		created = parsed
	default:
		return 0.0
	}

	ageDays := time.Since(created).Hours() / 24.0
	if ageDays <= 0 {
		return 1.0
	}
	if ageDays >= RecencyDecayDays {
		return 0.0
	}
	return 1.0 - ageDays/RecencyDecayDays
}

// verbSynonyms maps common verbs to a single deterministic alternative, used
// by expand to generate paraphrases without any LLM dependency.
var verbSynonyms = map[string]string{
	"find":      "locate",
	"create":    "build",
	"make":      "build",
	"fix":       "resolve",
	"explain":   "describe",
	"implement": "write",
	"show":      "display",
	"get":       "retrieve",
}

var questionPrefixes = []string{"how do i ", "how to ", "what is ", "why does ", "can you "}

// expand generates up to n deterministic paraphrases of query: one
// synonym-substituted variant and one question-to-statement reformulation,
// satisfying spec.md §4.6's "no LLM dependency required" constraint.
func expand(query string, n int) []string {
	if n <= 0 {
		n = 3
	}

	var out []string
	lower := strings.ToLower(query)

	verbs := make([]string, 0, len(verbSynonyms))
	for verb := range verbSynonyms {
		verbs = append(verbs, verb)
	}
	sort.Strings(verbs)
	for _, verb := range verbs {
		if strings.Contains(lower, verb) {
			out = append(out, strings.Replace(lower, verb, verbSynonyms[verb], 1))
			break
		}
	}

	for _, prefix := range questionPrefixes {
		if strings.HasPrefix(lower, prefix) {
			out = append(out, strings.TrimPrefix(lower, prefix))
			break
		}
	}

	if len(out) > n {
		out = out[:n]
	}
	return out
}
