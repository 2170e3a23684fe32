// Package types defines the shared data model for the memory engine:
// projects, symbolic facts, episodes, document chunks, and the in-memory
// operation ring buffer used by auto-learning and metrics.
package types

import "time"

// Authority classifies how a caller must treat a piece of memory once it is
// injected into a prompt. The hierarchy is fixed: symbolic > episodic >
// semantic.
type Authority string

const (
	AuthorityAuthoritative    Authority = "authoritative"
	AuthorityAdvisory         Authority = "advisory"
	AuthorityNonAuthoritative Authority = "non-authoritative"
	AuthoritySystem           Authority = "system"
)

// ProjectStatus is the lifecycle state of a Project.
type ProjectStatus string

const (
	ProjectStatusActive   ProjectStatus = "active"
	ProjectStatusArchived ProjectStatus = "archived"
)

// Project is the tenant boundary that owns a symbolic store, an episodic
// store, and a semantic index.
type Project struct {
	ProjectID     string                 `json:"project_id"`
	Name          string                 `json:"name"`
	ShortUUID     string                 `json:"short_uuid"`
	ChromaPath    string                 `json:"chroma_path"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	Status        ProjectStatus          `json:"status"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	SchemaVersion int                    `json:"schema_version"`
}

// FactCategory enumerates the allowed symbolic fact categories.
type FactCategory string

const (
	CategoryPreference FactCategory = "preference"
	CategoryConstraint FactCategory = "constraint"
	CategoryDecision   FactCategory = "decision"
	CategoryFact       FactCategory = "fact"
)

// FactSource enumerates who produced a symbolic fact.
type FactSource string

const (
	SourceUser         FactSource = "user"
	SourceAgent        FactSource = "agent"
	SourceAutoLearning FactSource = "auto_learning"
	SourceSystem       FactSource = "system"
)

// MemoryFact is an explicit, authoritative fact keyed by (project, key).
type MemoryFact struct {
	ID            string       `json:"id"`
	ProjectID     string       `json:"project_id"`
	Category      FactCategory `json:"category"`
	Key           string       `json:"key"`
	Value         interface{}  `json:"value"`
	Confidence    float64      `json:"confidence"`
	Source        FactSource   `json:"source"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	SchemaVersion int          `json:"schema_version"`
}

// Episode is an advisory lesson learned from a past situation.
type Episode struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	Situation     string    `json:"situation"`
	Action        string    `json:"action"`
	Outcome       string    `json:"outcome"`
	Lesson        string    `json:"lesson"`
	Confidence    float64   `json:"confidence"`
	CreatedAt     time.Time `json:"created_at"`
	SchemaVersion int       `json:"schema_version"`
}

// ChunkSourceType enumerates the kind of source a semantic chunk came from.
type ChunkSourceType string

const (
	ChunkTypeDoc       ChunkSourceType = "doc"
	ChunkTypeCode      ChunkSourceType = "code"
	ChunkTypeNote      ChunkSourceType = "note"
	ChunkTypeArticle   ChunkSourceType = "article"
	ChunkTypeReference ChunkSourceType = "reference"
)

// ChunkMetadata carries the provenance of a DocumentChunk.
type ChunkMetadata struct {
	Source      string          `json:"source"`
	Type        ChunkSourceType `json:"type"`
	DocumentID  string          `json:"document_id"`
	ChunkIndex  int             `json:"chunk_index"`
	TotalChunks int             `json:"total_chunks"`
	CreatedAt   time.Time       `json:"created_at"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// DocumentChunk is a non-authoritative, deterministically-sized slice of a
// source document, the unit of semantic retrieval.
type DocumentChunk struct {
	ChunkID     string        `json:"chunk_id"`
	DocumentID  string        `json:"document_id"`
	Content     string        `json:"content"`
	Embedding   []float64     `json:"embedding,omitempty"`
	Metadata    ChunkMetadata `json:"metadata"`
	ChunkIndex  int           `json:"chunk_index"`
	ProjectID   string        `json:"project_id"`
}

// OperationResult is the coarse success/error outcome of a tool call.
type OperationResult string

const (
	OperationSuccess OperationResult = "success"
	OperationError   OperationResult = "error"
)

// OperationRecord captures one tool invocation for the auto-learning ring
// buffer and metrics. It is never persisted; it lives only for the life of
// the process.
type OperationRecord struct {
	ToolName   string                 `json:"tool_name"`
	ProjectID  string                 `json:"project_id"`
	Arguments  map[string]interface{} `json:"arguments,omitempty"`
	Result     OperationResult        `json:"result"`
	Outcome    string                 `json:"outcome,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	DurationMS int64                  `json:"duration_ms"`
}

// Trigger is the closed set of reasons a caller may give to justify a
// semantic retrieval.
type Trigger string

const (
	TriggerExternalInfoNeeded        Trigger = "external_info_needed"
	TriggerSymbolicInsufficient      Trigger = "symbolic_memory_insufficient"
	TriggerEpisodicSuggestsRetrieval Trigger = "episodic_suggests_retrieval"
	TriggerExplicitRetrievalRequest  Trigger = "explicit_retrieval_request"
)

// ValidTriggers is the closed set accepted by the retriever.
var ValidTriggers = map[Trigger]bool{
	TriggerExternalInfoNeeded:        true,
	TriggerSymbolicInsufficient:      true,
	TriggerEpisodicSuggestsRetrieval: true,
	TriggerExplicitRetrievalRequest:  true,
}

// SearchResult is a single ranked hit returned by the semantic store.
type SearchResult struct {
	ChunkID    string                 `json:"chunk_id"`
	DocumentID string                 `json:"document_id"`
	Content    string                 `json:"content"`
	Score      float64                `json:"score"`
	Metadata   map[string]interface{} `json:"metadata"`
	ChunkIndex int                    `json:"chunk_index"`
	Citation   string                 `json:"citation"`
}

// ContextType enumerates the scope of a get_context call.
type ContextType string

const (
	ContextAll       ContextType = "all"
	ContextSymbolic  ContextType = "symbolic"
	ContextEpisodic  ContextType = "episodic"
	ContextSemantic  ContextType = "semantic"
)

// MemoryType enumerates the scope of a search call.
type MemoryType string

const (
	MemoryAll      MemoryType = "all"
	MemorySymbolic MemoryType = "symbolic"
	MemoryEpisodic MemoryType = "episodic"
	MemorySemantic MemoryType = "semantic"
)
