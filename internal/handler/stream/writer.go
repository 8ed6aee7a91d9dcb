// Package stream writes chunk frames to an HTTP response as they are produced.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	llmModels "relay/internal/domain/models/llm"
	"relay/internal/protocol"
)

// ErrFlushUnsupported is returned when the response cannot be flushed per frame.
var ErrFlushUnsupported = errors.New("response writer does not support flushing")

// LineWriter writes one protocol frame per line and flushes after each.
type LineWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewLineWriter wraps w. It fails when w cannot flush.
func NewLineWriter(w http.ResponseWriter) (*LineWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrFlushUnsupported
	}
	return &LineWriter{w: w, flusher: flusher}, nil
}

// WriteHeader sends the streaming headers and status 200. extra headers are
// set before the status line is written.
func (l *LineWriter) WriteHeader(extra map[string]string) {
	h := l.w.Header()
	h.Set("Content-Type", protocol.ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no") // Disable nginx buffering
	for k, v := range extra {
		h.Set(k, v)
	}
	l.w.WriteHeader(http.StatusOK)
	l.flusher.Flush()
}

// WriteChunk encodes and flushes one frame.
func (l *LineWriter) WriteChunk(c llmModels.Chunk) error {
	line, err := protocol.Encode(c)
	if err != nil {
		return err
	}
	if _, err := l.w.Write(line); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	l.flusher.Flush()
	return nil
}

// WriteKeepAlive writes a blank line, which decoders skip.
func (l *LineWriter) WriteKeepAlive() error {
	if _, err := l.w.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	l.flusher.Flush()
	return nil
}

// Pump copies chunks to the writer until the channel closes, a write fails,
// or ctx ends. Blank keepalive lines are written while chunks are idle.
// It returns nil when the channel closed normally.
func Pump(ctx context.Context, lw *LineWriter, chunks <-chan llmModels.Chunk, cfg *Config, logger *slog.Logger) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var tick <-chan time.Time
	if cfg.KeepAliveInterval > 0 {
		ticker := time.NewTicker(cfg.KeepAliveInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case c, ok := <-chunks:
			if !ok {
				return nil
			}
			if err := lw.WriteChunk(c); err != nil {
				return err
			}

		case <-tick:
			if err := lw.WriteKeepAlive(); err != nil {
				return err
			}
			logger.Debug("keepalive sent")
		}
	}
}
