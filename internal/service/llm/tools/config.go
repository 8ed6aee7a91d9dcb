package tools

// ToolConfig centralizes limits for tool implementations.
type ToolConfig struct {
	WebSearchDefaultLimit int // Default number of web search results
	WebSearchMaxLimit     int // Maximum allowed web search results
}

// DefaultToolConfig returns the default tool configuration.
func DefaultToolConfig() *ToolConfig {
	return &ToolConfig{
		WebSearchDefaultLimit: 5,
		WebSearchMaxLimit:     10,
	}
}
