package client

import (
	"errors"
	"io"
	"log/slog"
	"strings"

	"relay/internal/domain"
	llmModels "relay/internal/domain/models/llm"
	"relay/internal/protocol"
)

// StreamOutcome is what a consumer knows once a chunk stream ends.
type StreamOutcome struct {
	Text    string
	Usage   *llmModels.Usage
	Search  *llmModels.SearchMetadata
	Retries []int // attempt numbers of control:retry frames, in order
	// Failed is set by control:error. The stream produced no persisted reply.
	Failed     bool
	Attempts   int
	MaxRetries int
	// Skipped counts malformed frames that were logged and ignored.
	Skipped int
}

// StreamHandlers receive chunks as they are decoded. Any field may be nil.
type StreamHandlers struct {
	OnContent  func(text string)
	OnRetry    func(attempt int)
	OnError    func(attempt, maxRetries int)
	OnMetadata func(md llmModels.Metadata)
}

// StreamReader decodes a chunk stream body into a local view.
type StreamReader struct {
	handlers StreamHandlers
	logger   *slog.Logger
}

// NewStreamReader creates a reader. logger may be nil.
func NewStreamReader(handlers StreamHandlers, logger *slog.Logger) *StreamReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamReader{handlers: handlers, logger: logger}
}

// Read consumes body until EOF. A body that ends without control:error is a
// completed stream even when no metadata arrived.
func (s *StreamReader) Read(body io.Reader) (*StreamOutcome, error) {
	out := &StreamOutcome{}
	var text strings.Builder

	reader := protocol.NewReader(body)
	reader.OnParseError = func(err *domain.ProtocolParseError) {
		out.Skipped++
		s.logger.Warn("skipping malformed frame", "error", err)
	}

	for {
		chunk, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			out.Text = text.String()
			return out, err
		}

		switch chunk.Kind {
		case llmModels.ChunkContent:
			text.WriteString(chunk.Text)
			if s.handlers.OnContent != nil {
				s.handlers.OnContent(chunk.Text)
			}

		case llmModels.ChunkMetadata:
			md := *chunk.Metadata
			usage := md.Usage
			out.Usage = &usage
			out.Search = md.Search
			if s.handlers.OnMetadata != nil {
				s.handlers.OnMetadata(md)
			}

		case llmModels.ChunkControl:
			s.applyControl(out, chunk.Control)
		}
	}

	out.Text = text.String()
	return out, nil
}

func (s *StreamReader) applyControl(out *StreamOutcome, ctl *llmModels.Control) {
	switch ctl.Type {
	case llmModels.ControlRetry:
		out.Retries = append(out.Retries, ctl.Attempt)
		if s.handlers.OnRetry != nil {
			s.handlers.OnRetry(ctl.Attempt)
		}

	case llmModels.ControlError:
		out.Failed = true
		out.Attempts = ctl.Attempt
		out.MaxRetries = ctl.MaxRetries
		if s.handlers.OnError != nil {
			s.handlers.OnError(ctl.Attempt, ctl.MaxRetries)
		}

	case llmModels.ControlUsage:
		// Non-tool streams report usage as a control frame.
		if ctl.TokenUsage != nil {
			usage := *ctl.TokenUsage
			out.Usage = &usage
			if s.handlers.OnMetadata != nil {
				s.handlers.OnMetadata(llmModels.Metadata{Usage: usage})
			}
		}
	}
}
