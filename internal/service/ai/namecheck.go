package ai

import (
	"context"
	"strings"

	"github.com/kapu/guest-research-go/internal/constants"
	"github.com/kapu/guest-research-go/internal/prompt"
	"github.com/kapu/guest-research-go/internal/util"
	"go.uber.org/zap"
)

// NameChecker asks the model for the canonical spelling of a name.
type NameChecker struct {
	mm     *ModelManager
	logger *zap.Logger
}

func NewNameChecker(mm *ModelManager, logger *zap.Logger) *NameChecker {
	return &NameChecker{mm: mm, logger: util.OrNop(logger)}
}

// Check returns the model's answer trimmed of quotes and whitespace. Deciding
// whether the answer is usable is left to the caller.
func (n *NameChecker) Check(ctx context.Context, apiKey, rawName string) (string, error) {
	promptText, err := prompt.BuildNameCheckPrompt(rawName)
	if err != nil {
		return "", err
	}

	result, err := n.mm.Generate(ctx, apiKey, Request{Prompt: promptText, Preset: PresetNameCheck})
	if err != nil {
		return "", err
	}

	answer := strings.Trim(strings.TrimSpace(result.Text), `"'`)
	n.logger.Debug("Name check answered",
		zap.String("input", rawName),
		zap.String("answer", util.TruncateString(answer, constants.StringLimits.VideoTitle)),
	)
	return answer, nil
}
