package ai

import (
	"github.com/kapu/guest-research-go/internal/constants"
	"github.com/kapu/guest-research-go/internal/domain"
)

// ModelPreset names a generation-parameter profile fixed per call type.
type ModelPreset string

const (
	PresetNameCheck     ModelPreset = "name_check" // short and deterministic
	PresetVideoAnalysis ModelPreset = "video_analysis"
	PresetSynthesis     ModelPreset = "synthesis" // long-form analysis
	PresetMetadata      ModelPreset = "metadata"
	PresetDossier       ModelPreset = "dossier"
	PresetQuestions     ModelPreset = "questions" // creative
)

// ModelConfig holds model configuration
type ModelConfig struct {
	Temperature      float32
	TopP             float32
	TopK             int
	MaxOutputTokens  int
	ResponseMimeType string // "application/json" or "text/plain"
	// ThinkingBudget caps reasoning tokens. nil keeps the model default.
	ThinkingBudget *int32
}

// GenerateMetadata contains metadata about the generation
type GenerateMetadata struct {
	Provider     string
	Model        string
	UsedFallback bool
}

// Request is one generation call.
type Request struct {
	Prompt string
	Preset ModelPreset
	Model  string
	// JSONMode asks for application/json output.
	JSONMode bool
	// GoogleSearch grounds the call with live search results.
	GoogleSearch bool
	// VideoURI attaches a video by reference.
	VideoURI string
}

// ProviderResult is a provider's raw answer.
type ProviderResult struct {
	Text    string
	Model   string
	Sources []domain.CitedSource
}

// GetPresetConfig returns the configuration for a preset
func GetPresetConfig(preset ModelPreset) ModelConfig {
	switch preset {
	case PresetNameCheck:
		// thinking tokens count against the output cap, which would leave no room for YES/NO
		noThinking := int32(0)
		return ModelConfig{
			Temperature:     0,
			TopP:            0.9,
			TopK:            10,
			MaxOutputTokens: constants.NameCheckConfig.MaxOutputTokens,
			ThinkingBudget:  &noThinking,
		}
	case PresetVideoAnalysis:
		return ModelConfig{
			Temperature:     0.2,
			TopP:            0.95,
			TopK:            40,
			MaxOutputTokens: 4096,
		}
	case PresetSynthesis:
		return ModelConfig{
			Temperature:     0.3,
			TopP:            0.95,
			TopK:            40,
			MaxOutputTokens: 16384,
		}
	case PresetMetadata:
		return ModelConfig{
			Temperature:     0.3,
			TopP:            0.95,
			TopK:            40,
			MaxOutputTokens: 8192,
		}
	case PresetDossier:
		return ModelConfig{
			Temperature:     0.2,
			TopP:            0.95,
			TopK:            40,
			MaxOutputTokens: 8192,
		}
	case PresetQuestions:
		return ModelConfig{
			Temperature:     0.8,
			TopP:            0.95,
			TopK:            40,
			MaxOutputTokens: 8192,
		}
	default:
		return GetPresetConfig(PresetSynthesis)
	}
}
