package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	llmModels "relay/internal/domain/models/llm"
	llmSvc "relay/internal/domain/services/llm"
	"relay/internal/service/llm/tools/external"
)

// WebSearchToolName is the name the model uses to call web search.
const WebSearchToolName = "web_search"

var webSearchTopics = []string{"general", "news", "finance"}

// WebSearchOutput is the structured result of one web_search call.
// The streaming layer reads it back to build search metadata.
type WebSearchOutput struct {
	Query       string                   `json:"query"`
	Results     []llmModels.SearchSource `json:"results"`
	ResultCount int                      `json:"result_count"`
}

// WebSearchTool searches the web through an external SearchClient.
type WebSearchTool struct {
	client external.SearchClient
	config *ToolConfig
}

// NewWebSearchTool creates a new WebSearchTool instance.
func NewWebSearchTool(client external.SearchClient, config *ToolConfig) *WebSearchTool {
	if config == nil {
		config = DefaultToolConfig()
	}
	return &WebSearchTool{
		client: client,
		config: config,
	}
}

// Definition implements Tool.
func (t *WebSearchTool) Definition() llmSvc.ToolDefinition {
	return llmSvc.ToolDefinition{
		Name:        WebSearchToolName,
		Description: "Search the web for current information. Returns titles, URLs and snippets of matching pages.",
		Parameters: []llmSvc.ToolParameter{
			{Name: "query", Type: "string", Description: "Search query", Required: true},
			{Name: "max_results", Type: "integer", Description: fmt.Sprintf("Maximum results to return (default %d, max %d)", t.config.WebSearchDefaultLimit, t.config.WebSearchMaxLimit)},
			{Name: "topic", Type: "string", Description: "Search category", Enum: webSearchTopics},
		},
	}
}

// Execute implements Tool.
// Input parameters:
//   - query (string, required)
//   - max_results (integer, optional): clamped to [1, WebSearchMaxLimit]
//   - topic (string, optional): "general", "news" or "finance"
func (t *WebSearchTool) Execute(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	query, ok := input["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return nil, errors.New("missing required parameter: query (string)")
	}
	query = strings.TrimSpace(query)

	maxResults := t.config.WebSearchDefaultLimit
	if maxVal, exists := input["max_results"]; exists {
		if n, ok := toInt(maxVal); ok {
			maxResults = min(max(n, 1), t.config.WebSearchMaxLimit)
		}
	}

	topic := ""
	if topicVal, exists := input["topic"]; exists {
		if topicStr, ok := topicVal.(string); ok {
			topic = strings.TrimSpace(topicStr)
			if topic != "" && !isValidTopic(topic) {
				return nil, fmt.Errorf("invalid topic '%s': must be 'general', 'news', or 'finance'", topic)
			}
		}
	}

	response, err := t.client.Search(ctx, query, external.SearchOptions{
		MaxResults: maxResults,
		Topic:      topic,
	})
	if err != nil {
		return nil, fmt.Errorf("web search failed: %w", err)
	}

	results := make([]llmModels.SearchSource, len(response.Results))
	for i, r := range response.Results {
		results[i] = llmModels.SearchSource{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Snippet,
		}
	}

	return &WebSearchOutput{
		Query:       query,
		Results:     results,
		ResultCount: len(results),
	}, nil
}

func isValidTopic(topic string) bool {
	for _, t := range webSearchTopics {
		if t == topic {
			return true
		}
	}
	return false
}

// toInt accepts the numeric shapes JSON decoders and providers hand us.
func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}
