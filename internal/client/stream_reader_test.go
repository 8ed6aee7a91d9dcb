package client

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmModels "relay/internal/domain/models/llm"
	"relay/internal/protocol"
)

func encodeAll(t *testing.T, chunks ...llmModels.Chunk) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	for _, c := range chunks {
		line, err := protocol.Encode(c)
		require.NoError(t, err)
		buf.Write(line)
	}
	return &buf
}

func TestStreamReader_Completed(t *testing.T) {
	body := encodeAll(t,
		llmModels.RetryChunk(0),
		llmModels.ContentChunk("Hel"),
		llmModels.ContentChunk("lo"),
		llmModels.MetadataChunk(llmModels.Metadata{
			Usage:  llmModels.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
			Search: &llmModels.SearchMetadata{Query: "q", Results: []llmModels.SearchSource{{Title: "t", URL: "https://example.com"}}},
		}),
	)

	var live strings.Builder
	var retries []int
	r := NewStreamReader(StreamHandlers{
		OnContent: func(text string) { live.WriteString(text) },
		OnRetry:   func(attempt int) { retries = append(retries, attempt) },
	}, nil)

	out, err := r.Read(body)
	require.NoError(t, err)
	assert.Equal(t, "Hello", out.Text)
	assert.Equal(t, "Hello", live.String())
	assert.Equal(t, []int{0}, retries)
	assert.Equal(t, []int{0}, out.Retries)
	assert.False(t, out.Failed)
	require.NotNil(t, out.Usage)
	assert.Equal(t, 5, out.Usage.TotalTokens)
	require.NotNil(t, out.Search)
	assert.Equal(t, "q", out.Search.Query)
}

func TestStreamReader_Failed(t *testing.T) {
	body := encodeAll(t,
		llmModels.RetryChunk(0),
		llmModels.RetryChunk(1),
		llmModels.ErrorChunk(3, 3),
	)

	out, err := NewStreamReader(StreamHandlers{}, nil).Read(body)
	require.NoError(t, err)
	assert.True(t, out.Failed)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 3, out.MaxRetries)
	assert.Equal(t, []int{0, 1}, out.Retries)
	assert.Empty(t, out.Text)
}

func TestStreamReader_SkipsMalformedAndKeepalives(t *testing.T) {
	body := strings.NewReader("0:\"a\"\n\nx:nope\n0:\"b\"\ne:{\"tokenUsage\":{\"promptTokens\":1,\"completionTokens\":1,\"totalTokens\":2}}\n")

	out, err := NewStreamReader(StreamHandlers{}, nil).Read(body)
	require.NoError(t, err)
	assert.Equal(t, "ab", out.Text)
	assert.Equal(t, 1, out.Skipped)
	require.NotNil(t, out.Usage)
	assert.Equal(t, 2, out.Usage.TotalTokens)
}
