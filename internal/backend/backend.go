// Package backend implements the MemoryBackend tool façade described in
// spec.md §4.10: it binds a project id to its three stores, implements the
// tool API, records metrics, and drives auto-learning, grounded in the
// teacher's internal/tools/store/handler.go typed-request/response shape.
package backend

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"agent-memory-core/internal/analyzer"
	"agent-memory-core/internal/config"
	"agent-memory-core/internal/embeddings"
	"agent-memory-core/internal/episodic"
	"agent-memory-core/internal/errs"
	"agent-memory-core/internal/ingest"
	"agent-memory-core/internal/learning"
	"agent-memory-core/internal/logging"
	"agent-memory-core/internal/metrics"
	"agent-memory-core/internal/project"
	"agent-memory-core/internal/prompt"
	"agent-memory-core/internal/retrieval"
	"agent-memory-core/internal/semantic"
	"agent-memory-core/internal/symbolic"
	"agent-memory-core/internal/types"
	"agent-memory-core/internal/upload"
)

const component = "backend"

// projectStores bundles the per-project store handles a Backend keeps open.
type projectStores struct {
	symbolic  *symbolic.Store
	episodic  *episodic.Store
	semantic  semantic.Store
	ingestor  *ingest.Ingestor
	retriever *retrieval.Retriever
	tracker   *learning.Tracker
}

// Backend is the MemoryBackend façade: the single entry point tool handlers
// call into.
type Backend struct {
	cfg       *config.Config
	logger    logging.Logger
	projects  *project.Manager
	embedder  embeddings.Embedder
	metrics   *metrics.Registry
	guard     *upload.Guard
	analyzer  *analyzer.Analyzer
	extractor *learning.Extractor
	builder   *prompt.Builder

	openStores map[string]*projectStores
}

// New constructs a Backend wired to the given config, project manager,
// embedder, and optional LLM capability (nil disables LLM-backed analysis
// and extraction).
func New(cfg *config.Config, logger logging.Logger, projects *project.Manager, embedder embeddings.Embedder, llm analyzer.ChatCompleter) *Backend {
	guard := upload.NewGuard(cfg.RemoteFileUploadEnabled, cfg.RemoteUploadDirectory, cfg.RemoteUploadMaxAgeSeconds, cfg.RemoteUploadMaxFileSizeMB)

	return &Backend{
		cfg:        cfg,
		logger:     logger,
		projects:   projects,
		embedder:   embedder,
		metrics:    metrics.NewRegistry(),
		guard:      guard,
		analyzer:   analyzer.New(llm, 0, 0),
		extractor:  learning.NewExtractor(llm),
		builder:    prompt.New(cfg.MaxContextChars),
		openStores: map[string]*projectStores{},
	}
}

func (b *Backend) stores(p *types.Project) (*projectStores, error) {
	if existing, ok := b.openStores[p.ProjectID]; ok {
		return existing, nil
	}

	dir := b.projects.GetProjectDir(p.ProjectID)

	symStore, err := symbolic.Open(dir, p.ProjectID)
	if err != nil {
		return nil, err
	}
	epiStore, err := episodic.Open(dir, p.ProjectID)
	if err != nil {
		return nil, err
	}

	semStore, err := b.openSemanticStore(p)
	if err != nil {
		return nil, err
	}

	s := &projectStores{
		symbolic:  symStore,
		episodic:  epiStore,
		semantic:  semStore,
		ingestor:  ingest.New(semStore),
		retriever: retrieval.New(semStore, b.embedder),
		tracker:   learning.NewTracker(learning.Mode(b.cfg.AutomaticLearning.Mode), b.cfg.AutomaticLearning.Enabled),
	}
	b.openStores[p.ProjectID] = s
	return s, nil
}

func (b *Backend) openSemanticStore(p *types.Project) (semantic.Store, error) {
	switch b.cfg.VectorBackend {
	case config.VectorBackendChromaDB:
		return semantic.OpenSingleton(p.ChromaPath, func(path string) (semantic.Store, error) {
			return semantic.NewChromaStore(b.cfg.Chroma, path, b.embedder)
		})
	case config.VectorBackendQdrant:
		return semantic.OpenSingleton(p.ChromaPath, func(path string) (semantic.Store, error) {
			return semantic.NewQdrantStore(context.Background(), b.cfg.Qdrant, p.ProjectID, path, b.embedder)
		})
	default:
		return semantic.OpenSingleton(p.ChromaPath, func(path string) (semantic.Store, error) {
			return semantic.NewLegacyStore(path, b.embedder)
		})
	}
}

func (b *Backend) resolveProject(projectID string) (*types.Project, error) {
	p, err := b.projects.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errs.New(errs.KindNotFound, component, "resolveProject", fmt.Sprintf("project %q not found", projectID))
	}
	return p, nil
}

// call wraps a tool operation with metrics recording, per spec.md §4.10's
// "every operation records a tool_call start and a tool_completion" rule,
// and then feeds the operation to the auto-learning tracker. Auto-learning
// runs synchronously on the calling goroutine before call returns; there is
// no background queue.
func (b *Backend) call(projectID, toolName string, autoLearn bool, fn func() (interface{}, error)) (interface{}, error) {
	requestID := b.metrics.RecordToolCall(projectID, toolName)

	start := time.Now()
	result, err := fn()

	message := ""
	if err != nil {
		message = err.Error()
		b.logger.ErrorErr("tool call failed", err, "project_id", projectID, "tool", toolName)
	}
	b.metrics.RecordToolCompletion(requestID, err, message)

	b.trackOperation(projectID, toolName, err, autoLearn, time.Since(start))
	return result, err
}

func (b *Backend) trackOperation(projectID, toolName string, callErr error, autoLearn bool, duration time.Duration) {
	stores, ok := b.openStores[projectID]
	if !ok || stores.tracker == nil {
		return
	}

	outcome := types.OperationSuccess
	errMsg := ""
	if callErr != nil {
		outcome = types.OperationError
		errMsg = callErr.Error()
	}

	candidates := stores.tracker.Record(types.OperationRecord{
		ToolName:   toolName,
		ProjectID:  projectID,
		Result:     outcome,
		Error:      errMsg,
		Timestamp:  time.Now().UTC(),
		DurationMS: duration.Milliseconds(),
	}, autoLearn)

	for _, c := range candidates {
		existing, _ := stores.episodic.ListRecentEpisodes(3650, 0)
		episode, ok := b.extractor.Extract(context.Background(), c, existing)
		if !ok {
			continue
		}
		if _, err := stores.episodic.StoreEpisode(episode); err != nil {
			b.logger.Warn("failed to store auto-learned episode", "project_id", projectID, "error", err)
		}
	}
}

// ListProjectsResult is the response shape of ListProjects.
type ListProjectsResult struct {
	Projects []*types.Project `json:"projects"`
	Total    int              `json:"total"`
}

// ListProjects returns every project, optionally filtered by status.
func (b *Backend) ListProjects(status *types.ProjectStatus, autoLearn bool) (*ListProjectsResult, error) {
	out, err := b.call("", "list_projects", autoLearn, func() (interface{}, error) {
		projects, err := b.projects.ListProjects(status)
		if err != nil {
			return nil, err
		}
		return &ListProjectsResult{Projects: projects, Total: len(projects)}, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*ListProjectsResult), nil
}

// SourceRecord summarizes one ingested source document.
type SourceRecord struct {
	Path        string    `json:"path"`
	Type        string    `json:"type"`
	ChunkCount  int       `json:"chunk_count"`
	LastUpdated time.Time `json:"last_updated"`
}

// ListSources aggregates semantic chunks into per-source records.
func (b *Backend) ListSources(projectID string, sourceType *types.ChunkSourceType, autoLearn bool) ([]SourceRecord, error) {
	out, err := b.call(projectID, "list_sources", autoLearn, func() (interface{}, error) {
		p, err := b.resolveProject(projectID)
		if err != nil {
			return nil, err
		}
		stores, err := b.stores(p)
		if err != nil {
			return nil, err
		}

		// SemanticStore's interface has no native "list all chunks" op, so a
		// source listing is best served by the legacy/mirror representation
		// every backend keeps for id lookups and cancellation rollback.
		mirror, ok := stores.semantic.(interface {
			AllChunks() []*types.DocumentChunk
		})
		if !ok {
			return nil, errs.New(errs.KindInternal, component, "ListSources", "semantic backend does not support source listing")
		}

		bySource := map[string]*SourceRecord{}
		for _, c := range mirror.AllChunks() {
			if sourceType != nil && c.Metadata.Type != *sourceType {
				continue
			}
			rec, ok := bySource[c.Metadata.Source]
			if !ok {
				rec = &SourceRecord{Path: c.Metadata.Source, Type: string(c.Metadata.Type)}
				bySource[c.Metadata.Source] = rec
			}
			rec.ChunkCount++
			if c.Metadata.CreatedAt.After(rec.LastUpdated) {
				rec.LastUpdated = c.Metadata.CreatedAt
			}
		}

		sources := make([]SourceRecord, 0, len(bySource))
		for _, rec := range bySource {
			sources = append(sources, *rec)
		}
		sort.Slice(sources, func(i, j int) bool { return sources[i].Path < sources[j].Path })
		return sources, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]SourceRecord), nil
}

// ContextResult is the response shape of GetContext.
type ContextResult struct {
	Symbolic []*types.MemoryFact    `json:"symbolic"`
	Episodic []*types.Episode       `json:"episodic"`
	Semantic []types.SearchResult   `json:"semantic"`
}

// GetContext returns the requested context type(s), annotated with their
// authority level by virtue of which array they appear in.
func (b *Backend) GetContext(ctx context.Context, projectID string, contextType types.ContextType, query string, maxResults int, autoLearn bool) (*ContextResult, error) {
	out, err := b.call(projectID, "get_context", autoLearn, func() (interface{}, error) {
		p, err := b.resolveProject(projectID)
		if err != nil {
			return nil, err
		}
		stores, err := b.stores(p)
		if err != nil {
			return nil, err
		}

		result := &ContextResult{}

		if contextType == types.ContextAll || contextType == types.ContextSymbolic {
			facts, err := stores.symbolic.QueryMemory(nil, "", 0.0, maxResults)
			if err != nil {
				return nil, err
			}
			result.Symbolic = facts
		}

		if contextType == types.ContextAll || contextType == types.ContextEpisodic {
			episodes, err := stores.episodic.QueryEpisodes("", 0.0, maxResults)
			if err != nil {
				return nil, err
			}
			result.Episodic = episodes
		}

		if (contextType == types.ContextAll || contextType == types.ContextSemantic) && strings.TrimSpace(query) != "" {
			results, err := stores.retriever.Search(ctx, query, retrieval.Options{
				Trigger:  types.TriggerExplicitRetrievalRequest,
				TopK:     maxResults,
				MinScore: b.cfg.MinRetrievalScore,
			})
			if err != nil {
				return nil, err
			}
			result.Semantic = results
		}

		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*ContextResult), nil
}

// SearchResultSet is the response shape of Search.
type SearchResultSet struct {
	Symbolic []*types.MemoryFact  `json:"symbolic"`
	Episodic []*types.Episode     `json:"episodic"`
	Semantic []types.SearchResult `json:"semantic"`
}

// Search merges and sorts results with symbolic first, episodic next,
// semantic last (spec.md §4.10).
func (b *Backend) Search(ctx context.Context, projectID, query string, memoryType types.MemoryType, topK int, situationContains string, autoLearn bool) (*SearchResultSet, error) {
	out, err := b.call(projectID, "search", autoLearn, func() (interface{}, error) {
		p, err := b.resolveProject(projectID)
		if err != nil {
			return nil, err
		}
		stores, err := b.stores(p)
		if err != nil {
			return nil, err
		}

		result := &SearchResultSet{}

		if memoryType == types.MemoryAll || memoryType == types.MemorySymbolic {
			facts, err := stores.symbolic.QueryMemory(nil, "*"+query+"*", 0.0, topK)
			if err != nil {
				return nil, err
			}
			result.Symbolic = facts
		}

		if memoryType == types.MemoryAll || memoryType == types.MemoryEpisodic {
			episodeQuery := query
			if situationContains != "" {
				episodeQuery = situationContains
			}
			episodes, err := stores.episodic.QueryEpisodes(episodeQuery, 0.0, topK)
			if err != nil {
				return nil, err
			}
			result.Episodic = episodes
		}

		if memoryType == types.MemoryAll || memoryType == types.MemorySemantic {
			results, err := stores.retriever.Search(ctx, query, retrieval.Options{
				Trigger:  types.TriggerExternalInfoNeeded,
				TopK:     topK,
				MinScore: b.cfg.MinRetrievalScore,
			})
			if err != nil {
				return nil, err
			}
			result.Semantic = results
		}

		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*SearchResultSet), nil
}

// IngestFile removes aged uploads from the sandbox, validates filePath
// against the RemoteUploadGuard, ingests it into the semantic store, and on
// success schedules asynchronous deletion of the upload when it lies in the
// sandbox.
func (b *Backend) IngestFile(ctx context.Context, projectID, filePath string, metadata types.ChunkMetadata, autoLearn bool) ([]string, error) {
	out, err := b.call(projectID, "ingest_file", autoLearn, func() (interface{}, error) {
		p, err := b.resolveProject(projectID)
		if err != nil {
			return nil, err
		}
		stores, err := b.stores(p)
		if err != nil {
			return nil, err
		}

		if _, err := b.guard.CleanupOldUploads(); err != nil {
			b.logger.Warn("failed to clean up old uploads", "error", err)
		}

		realPath, err := b.guard.Validate(filePath)
		if err != nil {
			return nil, err
		}

		metadata.Extra = mergeExtra(metadata.Extra, map[string]interface{}{"project_id": projectID})
		ids, err := stores.ingestor.IngestFile(ctx, realPath, metadata, b.cfg.ChunkSize, b.cfg.ChunkOverlap)
		if err != nil {
			return nil, err
		}

		if err := stores.semantic.Save(ctx); err != nil {
			return nil, err
		}

		if b.guard.IsWithinSandbox(realPath) {
			go func() { _ = os.Remove(realPath) }()
		}

		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]string), nil
}

func mergeExtra(base, add map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range base {
		out[k] = v
	}
	for k, v := range add {
		out[k] = v
	}
	return out
}

// AddFact upserts a fact into the SymbolicStore.
func (b *Backend) AddFact(projectID, factKey string, factValue interface{}, confidence float64, category types.FactCategory, autoLearn bool) (*types.MemoryFact, error) {
	out, err := b.call(projectID, "add_fact", autoLearn, func() (interface{}, error) {
		p, err := b.resolveProject(projectID)
		if err != nil {
			return nil, err
		}
		stores, err := b.stores(p)
		if err != nil {
			return nil, err
		}

		if category == "" {
			category = types.CategoryFact
		}

		return stores.symbolic.StoreMemory(&types.MemoryFact{
			Category:   category,
			Key:        factKey,
			Value:      factValue,
			Confidence: confidence,
			Source:     types.SourceAgent,
		})
	})
	if err != nil {
		return nil, err
	}
	return out.(*types.MemoryFact), nil
}

// AddEpisode parses content for situation:/action:/outcome:/lesson: prefixes,
// falling back to title as situation and content as lesson when absent.
func (b *Backend) AddEpisode(projectID, title, content string, quality float64, autoLearn bool) (*types.Episode, error) {
	out, err := b.call(projectID, "add_episode", autoLearn, func() (interface{}, error) {
		p, err := b.resolveProject(projectID)
		if err != nil {
			return nil, err
		}
		stores, err := b.stores(p)
		if err != nil {
			return nil, err
		}

		episode := parseEpisodeContent(title, content, quality)
		return stores.episodic.StoreEpisode(episode)
	})
	if err != nil {
		return nil, err
	}
	return out.(*types.Episode), nil
}

func parseEpisodeContent(title, content string, quality float64) *types.Episode {
	fields := map[string]string{}
	prefixes := []string{"situation:", "action:", "outcome:", "lesson:"}

	lower := strings.ToLower(content)
	for i, prefix := range prefixes {
		idx := strings.Index(lower, prefix)
		if idx < 0 {
			continue
		}
		end := len(content)
		for _, nextPrefix := range prefixes[i+1:] {
			if nextIdx := strings.Index(lower[idx+len(prefix):], nextPrefix); nextIdx >= 0 {
				candidate := idx + len(prefix) + nextIdx
				if candidate < end {
					end = candidate
				}
			}
		}
		key := strings.TrimSuffix(prefix, ":")
		fields[key] = strings.TrimSpace(content[idx+len(prefix) : end])
	}

	if len(fields) == 0 {
		lesson := content
		if len(lesson) > 500 {
			lesson = lesson[:500]
		}
		return &types.Episode{Situation: title, Action: "observed directly", Outcome: "recorded without a structured breakdown", Lesson: lesson, Confidence: quality}
	}

	situation := fields["situation"]
	if situation == "" {
		situation = title
	}
	action := fields["action"]
	if action == "" {
		action = "observed directly"
	}
	outcome := fields["outcome"]
	if outcome == "" {
		outcome = "recorded without a structured breakdown"
	}
	lesson := fields["lesson"]
	if lesson == "" {
		lesson = content
		if len(lesson) > 500 {
			lesson = lesson[:500]
		}
	}

	return &types.Episode{
		Situation:  situation,
		Action:     action,
		Outcome:    outcome,
		Lesson:     lesson,
		Confidence: quality,
	}
}

// AnalyzeResult is the response shape of AnalyzeConversation.
type AnalyzeResult struct {
	Facts        []analyzer.ExtractedFact    `json:"facts"`
	Episodes     []analyzer.ExtractedEpisode `json:"episodes"`
	StoredFacts  int                         `json:"stored_facts,omitempty"`
	StoredEpisodes int                       `json:"stored_episodes,omitempty"`
}

// AnalyzeConversation runs the ConversationAnalyzer over a conversational
// turn, optionally persisting the results via AddFact/AddEpisode.
func (b *Backend) AnalyzeConversation(ctx context.Context, projectID, userMessage, agentResponse, extraContext string, autoStore bool, extractionMode string, autoLearn bool) (*AnalyzeResult, error) {
	out, err := b.call(projectID, "analyze_conversation", autoLearn, func() (interface{}, error) {
		p, err := b.resolveProject(projectID)
		if err != nil {
			return nil, err
		}
		if _, err := b.stores(p); err != nil {
			return nil, err
		}

		result := b.analyzer.Analyze(ctx, userMessage, agentResponse, extraContext, extractionMode)
		analyzed := &AnalyzeResult{Facts: result.Facts, Episodes: result.Episodes}

		if !autoStore {
			return analyzed, nil
		}

		for _, f := range result.Facts {
			if f.Confidence < b.cfg.UniversalHooks.ConversationAnalyzer.MinFactConfidence {
				continue
			}
			if _, err := b.AddFact(projectID, f.Key, f.Value, f.Confidence, types.FactCategory(f.Category), autoLearn); err == nil {
				analyzed.StoredFacts++
			}
		}

		for _, e := range result.Episodes {
			if e.Confidence < b.cfg.UniversalHooks.ConversationAnalyzer.MinEpisodeConfidence {
				continue
			}
			if _, err := b.AddEpisode(projectID, e.Title, e.Lesson, e.Confidence, autoLearn); err == nil {
				analyzed.StoredEpisodes++
			}
		}

		return analyzed, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*AnalyzeResult), nil
}

// buildPromptResult bundles BuildPrompt's two return values so they can pass
// through call()'s single interface{} result.
type buildPromptResult struct {
	text   string
	unsafe bool
}

// BuildPrompt assembles a read-only prompt for query using the latest
// symbolic/episodic/semantic state for projectID.
func (b *Backend) BuildPrompt(ctx context.Context, projectID, system, query string, maxResults int, autoLearn bool) (string, bool, error) {
	out, err := b.call(projectID, "build_prompt", autoLearn, func() (interface{}, error) {
		ctxResult, err := b.GetContext(ctx, projectID, types.ContextAll, query, maxResults, autoLearn)
		if err != nil {
			return nil, err
		}

		text, unsafe := b.builder.Build(prompt.Input{
			System:   system,
			Facts:    ctxResult.Symbolic,
			Episodes: ctxResult.Episodic,
			Results:  ctxResult.Semantic,
			Query:    query,
		})
		return buildPromptResult{text: text, unsafe: unsafe}, nil
	})
	if err != nil {
		return "", false, err
	}
	r := out.(buildPromptResult)
	return r.text, r.unsafe, nil
}

// Metrics exposes the backend's metrics registry for the exporter surface.
func (b *Backend) Metrics() *metrics.Registry { return b.metrics }

// Close releases every open project store.
func (b *Backend) Close() error {
	var firstErr error
	for _, s := range b.openStores {
		if err := s.symbolic.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.episodic.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.semantic.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
