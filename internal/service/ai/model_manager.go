package ai

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/kapu/guest-research-go/internal/constants"
	"github.com/kapu/guest-research-go/internal/util"
	"github.com/kapu/guest-research-go/pkg/errors"
	"go.uber.org/zap"
)

var (
	statusRegex     = regexp.MustCompile(`\b(5\d{2})\b`)
	geminiCodeRegex = regexp.MustCompile(`"code":\s*(\d{3})`)
	openaiCodeRegex = regexp.MustCompile(`^(\d{3})\s`)
)

// ModelManager routes generation calls to the primary provider, resolves the
// API key to use, and classifies provider failures. It never retries; callers
// own their retry policy.
type ModelManager struct {
	primary    Provider
	fallback   Provider
	defaultKey string
	logger     *zap.Logger
}

type ModelManagerConfig struct {
	// DefaultAPIKey is the process-wide primary key used when the user has none.
	DefaultAPIKey string
}

func NewModelManager(primary, fallback Provider, cfg ModelManagerConfig, logger *zap.Logger) *ModelManager {
	logger = util.OrNop(logger)
	if fallback != nil {
		logger.Info("Secondary model provider enabled", zap.String("provider", fallback.Name()))
	}
	return &ModelManager{
		primary:    primary,
		fallback:   fallback,
		defaultKey: cfg.DefaultAPIKey,
		logger:     logger,
	}
}

// ResolveKey prefers the user's key over the process default.
func (mm *ModelManager) ResolveKey(userKey string) (string, error) {
	if key := strings.TrimSpace(userKey); key != "" {
		return key, nil
	}
	if mm.defaultKey != "" {
		return mm.defaultKey, nil
	}
	return "", errors.NewConfigurationError("no generative model API key configured; add one in Settings", "gemini")
}

func (mm *ModelManager) Primary() Provider {
	return mm.primary
}

// Fallback returns the secondary provider, or nil.
func (mm *ModelManager) Fallback() Provider {
	return mm.fallback
}

// Generate runs req on the primary provider and returns classified errors.
func (mm *ModelManager) Generate(ctx context.Context, apiKey string, req Request) (ProviderResult, error) {
	return mm.GenerateWith(ctx, mm.primary, apiKey, req)
}

// GenerateWith runs req on provider and returns classified errors.
func (mm *ModelManager) GenerateWith(ctx context.Context, provider Provider, apiKey string, req Request) (ProviderResult, error) {
	if provider == nil {
		return ProviderResult{}, errors.NewConfigurationError("model provider is not configured", "ai")
	}
	if apiKey == "" && provider == mm.primary {
		return ProviderResult{}, errors.NewConfigurationError("no generative model API key configured", provider.Name())
	}

	result, err := provider.Generate(ctx, apiKey, req)
	if err != nil {
		return ProviderResult{}, mm.classify(provider.Name(), err)
	}
	return result, nil
}

// GenerateJSON runs req in JSON mode and decodes the answer into dest.
func (mm *ModelManager) GenerateJSON(ctx context.Context, provider Provider, apiKey string, req Request, dest any) (*GenerateMetadata, error) {
	req.JSONMode = true
	result, err := mm.GenerateWith(ctx, provider, apiKey, req)
	if err != nil {
		return nil, err
	}
	metadata := &GenerateMetadata{
		Provider:     provider.Name(),
		Model:        result.Model,
		UsedFallback: provider != mm.primary,
	}
	return mm.decodeJSON(result.Text, metadata, dest)
}

func (mm *ModelManager) decodeJSON(text string, metadata *GenerateMetadata, dest any) (*GenerateMetadata, error) {
	cleaned := util.StripCodeFences(text)
	if cleaned == "" {
		return nil, errors.NewMalformedResponseError(metadata.Provider, "", nil)
	}

	if err := json.Unmarshal([]byte(cleaned), dest); err != nil {
		preview := util.TruncateString(cleaned, constants.StringLimits.LogPreview)
		mm.logger.Error("Failed to unmarshal JSON response",
			zap.String("provider", metadata.Provider),
			zap.Error(err),
			zap.String("response_preview", preview),
		)
		return nil, errors.NewMalformedResponseError(metadata.Provider, preview, err)
	}

	return metadata, nil
}

func (mm *ModelManager) classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.IsConfiguration(err) {
		return err
	}
	if isRateLimitError(err) {
		return errors.NewRateLimitError(provider, err)
	}
	if isServiceFailure(err) {
		return errors.NewProviderError("model service failure", provider, "generate", err)
	}
	return errors.NewProviderError("model call failed", provider, "generate", err)
}

func isServiceFailure(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()

	if strings.Contains(msg, "timeout") || strings.Contains(msg, "ETIMEDOUT") || strings.Contains(msg, "deadline exceeded") {
		return true
	}

	if isRateLimitError(err) {
		return true
	}

	if statusRegex.MatchString(msg) {
		return true
	}

	if matches := geminiCodeRegex.FindStringSubmatch(msg); len(matches) > 1 {
		if code, err := strconv.Atoi(matches[1]); err == nil {
			return code >= 500 && code < 600
		}
	}

	if matches := openaiCodeRegex.FindStringSubmatch(msg); len(matches) > 1 {
		if code, err := strconv.Atoi(matches[1]); err == nil {
			return code >= 500 && code < 600
		}
	}

	return false
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()

	if errors.LooksRateLimited(msg) || strings.Contains(strings.ToLower(msg), "quota") {
		return true
	}

	if matches := geminiCodeRegex.FindStringSubmatch(msg); len(matches) > 1 {
		if code, err := strconv.Atoi(matches[1]); err == nil {
			return code == 429
		}
	}

	if matches := openaiCodeRegex.FindStringSubmatch(msg); len(matches) > 1 {
		if code, err := strconv.Atoi(matches[1]); err == nil {
			return code == 429
		}
	}

	return false
}
