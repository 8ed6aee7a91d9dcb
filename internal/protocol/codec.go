// Package protocol implements the line-delimited chunk encoding used on the
// body of a streaming response.
//
// Every frame is a single line: a one-letter tag, a colon, and a JSON
// payload.
//
//	0:"Hello"                                  content
//	d:{"promptTokens":12,"completionTokens":40} metadata
//	e:{"type":"retry","attempt":0}             control
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"relay/internal/domain"
	llmModels "relay/internal/domain/models/llm"
)

const (
	TagContent  byte = '0'
	TagMetadata byte = 'd'
	TagControl  byte = 'e'
)

// ContentType is the media type of a chunk stream body.
const ContentType = "text/plain; charset=utf-8"

type retryPayload struct {
	Type    llmModels.ControlType `json:"type"`
	Attempt int                   `json:"attempt"`
}

type errorPayload struct {
	Type       llmModels.ControlType `json:"type"`
	Attempt    int                   `json:"attempt"`
	MaxRetries int                   `json:"maxRetries"`
}

type usagePayload struct {
	TokenUsage llmModels.Usage `json:"tokenUsage"`
}

// Encode serializes a chunk into one newline-terminated frame.
func Encode(c llmModels.Chunk) ([]byte, error) {
	var (
		tag     byte
		payload []byte
		err     error
	)

	switch c.Kind {
	case llmModels.ChunkContent:
		tag = TagContent
		payload, err = json.Marshal(c.Text)
	case llmModels.ChunkMetadata:
		if c.Metadata == nil {
			return nil, fmt.Errorf("encode metadata chunk: missing payload")
		}
		tag = TagMetadata
		payload, err = json.Marshal(c.Metadata)
	case llmModels.ChunkControl:
		if c.Control == nil {
			return nil, fmt.Errorf("encode control chunk: missing payload")
		}
		tag = TagControl
		payload, err = encodeControl(c.Control)
	default:
		return nil, fmt.Errorf("encode chunk: unknown kind %q", c.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s chunk: %w", c.Kind, err)
	}

	line := make([]byte, 0, len(payload)+3)
	line = append(line, tag, ':')
	line = append(line, payload...)
	line = append(line, '\n')
	return line, nil
}

func encodeControl(ctl *llmModels.Control) ([]byte, error) {
	switch ctl.Type {
	case llmModels.ControlRetry:
		return json.Marshal(retryPayload{Type: ctl.Type, Attempt: ctl.Attempt})
	case llmModels.ControlError:
		return json.Marshal(errorPayload{Type: ctl.Type, Attempt: ctl.Attempt, MaxRetries: ctl.MaxRetries})
	case llmModels.ControlUsage:
		if ctl.TokenUsage == nil {
			return nil, fmt.Errorf("usage control without token usage")
		}
		return json.Marshal(usagePayload{TokenUsage: *ctl.TokenUsage})
	default:
		return nil, fmt.Errorf("unknown control type %q", ctl.Type)
	}
}

// Decode parses one frame. A trailing newline (and carriage return) is
// tolerated. Malformed frames yield a *domain.ProtocolParseError.
func Decode(line []byte) (llmModels.Chunk, error) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) < 2 || line[1] != ':' {
		return llmModels.Chunk{}, parseErr(line, "missing tag separator", nil)
	}

	payload := line[2:]
	switch line[0] {
	case TagContent:
		var text string
		if err := json.Unmarshal(payload, &text); err != nil {
			return llmModels.Chunk{}, parseErr(line, "content payload is not a JSON string", err)
		}
		return llmModels.ContentChunk(text), nil

	case TagMetadata:
		if !gjson.ValidBytes(payload) || !gjson.ParseBytes(payload).IsObject() {
			return llmModels.Chunk{}, parseErr(line, "metadata payload is not a JSON object", nil)
		}
		var md llmModels.Metadata
		if err := json.Unmarshal(payload, &md); err != nil {
			return llmModels.Chunk{}, parseErr(line, "metadata payload", err)
		}
		return llmModels.Chunk{Kind: llmModels.ChunkMetadata, Metadata: &md}, nil

	case TagControl:
		return decodeControl(line, payload)

	default:
		return llmModels.Chunk{}, parseErr(line, fmt.Sprintf("unknown tag %q", line[0]), nil)
	}
}

func decodeControl(line, payload []byte) (llmModels.Chunk, error) {
	if !gjson.ValidBytes(payload) {
		return llmModels.Chunk{}, parseErr(line, "control payload is not valid JSON", nil)
	}
	doc := gjson.ParseBytes(payload)
	if !doc.IsObject() {
		return llmModels.Chunk{}, parseErr(line, "control payload is not a JSON object", nil)
	}

	attempt := doc.Get("attempt")
	switch llmModels.ControlType(doc.Get("type").String()) {
	case llmModels.ControlRetry:
		if attempt.Type != gjson.Number {
			return llmModels.Chunk{}, parseErr(line, "retry control without numeric attempt", nil)
		}
		return llmModels.RetryChunk(int(attempt.Int())), nil

	case llmModels.ControlError:
		maxRetries := doc.Get("maxRetries")
		if attempt.Type != gjson.Number || maxRetries.Type != gjson.Number {
			return llmModels.Chunk{}, parseErr(line, "error control without numeric attempt/maxRetries", nil)
		}
		return llmModels.ErrorChunk(int(attempt.Int()), int(maxRetries.Int())), nil
	}

	if tu := doc.Get("tokenUsage"); tu.IsObject() {
		var u llmModels.Usage
		if err := json.Unmarshal([]byte(tu.Raw), &u); err != nil {
			return llmModels.Chunk{}, parseErr(line, "tokenUsage payload", err)
		}
		return llmModels.UsageChunk(u), nil
	}

	return llmModels.Chunk{}, parseErr(line, "unknown control payload", nil)
}

func parseErr(line []byte, reason string, err error) error {
	return &domain.ProtocolParseError{Line: string(line), Reason: reason, Err: err}
}
