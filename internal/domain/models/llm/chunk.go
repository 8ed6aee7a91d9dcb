package llm

// ChunkKind discriminates the three frame families of the stream protocol.
type ChunkKind string

const (
	ChunkContent  ChunkKind = "content"
	ChunkMetadata ChunkKind = "metadata"
	ChunkControl  ChunkKind = "control"
)

// ControlType identifies the transient status carried by a control chunk.
type ControlType string

const (
	ControlRetry ControlType = "retry"
	ControlError ControlType = "error"
	// ControlUsage is the terminal token-usage frame of a stream that never
	// entered the tool loop. It has no "type" field on the wire.
	ControlUsage ControlType = "usage"
)

// Chunk is one ordered unit of the wire protocol. Exactly one of Text,
// Metadata or Control is meaningful, selected by Kind.
type Chunk struct {
	Kind     ChunkKind
	Text     string
	Metadata *Metadata
	Control  *Control
}

// Metadata is the side-channel payload of a "d:" frame.
type Metadata struct {
	Usage
	Search *SearchMetadata `json:"search,omitempty"`
}

// Control is the payload of an "e:" frame.
type Control struct {
	Type       ControlType
	Attempt    int
	MaxRetries int
	TokenUsage *Usage
}

// SearchSource is one web search hit surfaced to the consumer.
type SearchSource struct {
	Title   string `json:"title" msgpack:"title"`
	URL     string `json:"url" msgpack:"url"`
	Snippet string `json:"snippet" msgpack:"snippet"`
}

// SearchMetadata describes the searches performed while answering.
type SearchMetadata struct {
	Query   string         `json:"query" msgpack:"query"`
	Results []SearchSource `json:"results" msgpack:"results"`
}

func ContentChunk(text string) Chunk {
	return Chunk{Kind: ChunkContent, Text: text}
}

func MetadataChunk(md Metadata) Chunk {
	return Chunk{Kind: ChunkMetadata, Metadata: &md}
}

func RetryChunk(attempt int) Chunk {
	return Chunk{Kind: ChunkControl, Control: &Control{Type: ControlRetry, Attempt: attempt}}
}

func ErrorChunk(attempt, maxRetries int) Chunk {
	return Chunk{Kind: ChunkControl, Control: &Control{Type: ControlError, Attempt: attempt, MaxRetries: maxRetries}}
}

func UsageChunk(u Usage) Chunk {
	return Chunk{Kind: ChunkControl, Control: &Control{Type: ControlUsage, TokenUsage: &u}}
}

// IsTerminalError reports whether the chunk is the final control:error frame.
func (c Chunk) IsTerminalError() bool {
	return c.Kind == ChunkControl && c.Control != nil && c.Control.Type == ControlError
}
