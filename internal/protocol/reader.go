package protocol

import (
	"bufio"
	"errors"
	"io"

	"relay/internal/domain"
	llmModels "relay/internal/domain/models/llm"
)

// MaxFrameSize bounds a single decoded line.
const MaxFrameSize = 1 << 20

// Reader decodes frames from a stream body in arrival order.
// Blank lines (keepalives) are ignored. Malformed frames are handed to
// OnParseError and skipped so one bad frame never ends the stream.
type Reader struct {
	scanner *bufio.Scanner

	// OnParseError is called for every skipped frame. May be nil.
	OnParseError func(err *domain.ProtocolParseError)
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxFrameSize)
	return &Reader{scanner: scanner}
}

// Next returns the next well-formed chunk, or io.EOF when the body ends.
func (r *Reader) Next() (llmModels.Chunk, error) {
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 || (len(line) == 1 && line[0] == '\r') {
			continue
		}

		chunk, err := Decode(line)
		if err != nil {
			var parseErr *domain.ProtocolParseError
			if errors.As(err, &parseErr) {
				if r.OnParseError != nil {
					r.OnParseError(parseErr)
				}
				continue
			}
			return llmModels.Chunk{}, err
		}
		return chunk, nil
	}

	if err := r.scanner.Err(); err != nil {
		return llmModels.Chunk{}, err
	}
	return llmModels.Chunk{}, io.EOF
}
