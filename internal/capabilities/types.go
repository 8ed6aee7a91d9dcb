package capabilities

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ToolCallQuality represents how well a model handles function calling
type ToolCallQuality string

const (
	ToolCallQualityExcellent ToolCallQuality = "excellent"
	ToolCallQualityGood      ToolCallQuality = "good"
	ToolCallQualityBasic     ToolCallQuality = "basic"
)

// ModelCapabilities is the catalog entry of one model.
type ModelCapabilities struct {
	// Model identifier (the YAML map key)
	ID       string `yaml:"-" json:"id"`
	Provider string `yaml:"-" json:"provider"`

	DisplayName string `yaml:"display_name" json:"displayName"`
	Description string `yaml:"description" json:"description"`

	SupportsTools   bool            `yaml:"supports_tools" json:"supportsTools"`
	ToolCallQuality ToolCallQuality `yaml:"tool_call_quality" json:"toolCallQuality,omitempty"`

	ContextWindow int `yaml:"context_window" json:"contextWindow"`
	MaxOutput     int `yaml:"max_output" json:"maxOutput"`

	// Per million tokens, USD
	InputPrice  float64 `yaml:"input_price" json:"inputPrice"`
	OutputPrice float64 `yaml:"output_price" json:"outputPrice"`
}

// ProviderCapabilities represents all models for a provider
type ProviderCapabilities struct {
	Provider string              `yaml:"provider" json:"provider"`
	Models   []ModelCapabilities `yaml:"-" json:"models"` // Ordered as in the YAML file
}

// UnmarshalYAML keeps the model order of the YAML mapping, which a plain
// map decode would lose.
func (p *ProviderCapabilities) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("capabilities: expected mapping, got kind %d", node.Kind)
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "provider":
			p.Provider = value.Value
		case "models":
			if value.Kind != yaml.MappingNode {
				return fmt.Errorf("capabilities: models must be a mapping")
			}
			for j := 0; j+1 < len(value.Content); j += 2 {
				var model ModelCapabilities
				if err := value.Content[j+1].Decode(&model); err != nil {
					return fmt.Errorf("capabilities: model %s: %w", value.Content[j].Value, err)
				}
				model.ID = value.Content[j].Value
				p.Models = append(p.Models, model)
			}
		}
	}

	for i := range p.Models {
		p.Models[i].Provider = p.Provider
	}
	return nil
}
