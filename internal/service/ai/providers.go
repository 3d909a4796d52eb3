package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/kapu/guest-research-go/internal/util"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Provider generates text for a request. apiKey may be ignored by providers
// bound to a process-wide key.
type Provider interface {
	Name() string
	Generate(ctx context.Context, apiKey string, req Request) (ProviderResult, error)
}

// GeminiProvider wraps genai clients, one per API key, with preset-aware
// generation logic.
type GeminiProvider struct {
	defaultModel string
	logger       *zap.Logger

	mu      sync.Mutex
	clients map[string]*genai.Client
}

func NewGeminiProvider(defaultModel string, logger *zap.Logger) *GeminiProvider {
	if defaultModel == "" {
		defaultModel = "gemini-2.5-flash"
	}
	return &GeminiProvider{
		defaultModel: defaultModel,
		logger:       util.OrNop(logger),
		clients:      make(map[string]*genai.Client),
	}
}

func (g *GeminiProvider) Name() string {
	return "Gemini"
}

func (g *GeminiProvider) DefaultModel() string {
	return g.defaultModel
}

func (g *GeminiProvider) clientFor(ctx context.Context, apiKey string) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if client, ok := g.clients[apiKey]; ok {
		return client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	g.clients[apiKey] = client
	return client, nil
}

func (g *GeminiProvider) Generate(ctx context.Context, apiKey string, req Request) (ProviderResult, error) {
	client, err := g.clientFor(ctx, apiKey)
	if err != nil {
		return ProviderResult{}, err
	}

	modelName := req.Model
	if modelName == "" {
		modelName = g.defaultModel
	}
	config := GetPresetConfig(req.Preset)
	// grounding and JSON mime type cannot be combined
	if req.JSONMode && !req.GoogleSearch {
		config.ResponseMimeType = "application/json"
	}

	g.logger.Debug("Generating with Gemini",
		zap.String("model", modelName),
		zap.String("preset", string(req.Preset)),
		zap.Bool("json_mode", req.JSONMode),
		zap.Bool("grounded", req.GoogleSearch),
		zap.Bool("video", req.VideoURI != ""),
	)

	genConfig := buildGeminiConfig(config, req.GoogleSearch)

	parts := make([]*genai.Part, 0, 2)
	if req.VideoURI != "" {
		parts = append(parts, &genai.Part{FileData: &genai.FileData{FileURI: req.VideoURI, MIMEType: "video/*"}})
	}
	parts = append(parts, &genai.Part{Text: req.Prompt})

	resp, err := client.Models.GenerateContent(ctx, modelName, []*genai.Content{
		{Role: "user", Parts: parts},
	}, genConfig)
	if err != nil {
		g.logger.Warn("Gemini generation failed", zap.String("model", modelName), zap.Error(err))
		return ProviderResult{}, err
	}

	text := extractTextFromGeminiResponse(resp)
	if text == "" {
		return ProviderResult{}, fmt.Errorf("empty response from Gemini")
	}

	g.logger.Debug("Gemini response received", zap.Int("length", len(text)))
	return ProviderResult{Text: text, Model: modelName, Sources: extractGroundingSources(resp)}, nil
}

func buildGeminiConfig(config ModelConfig, grounded bool) *genai.GenerateContentConfig {
	topK := float32(config.TopK)
	genConfig := &genai.GenerateContentConfig{
		Temperature:      &config.Temperature,
		TopP:             &config.TopP,
		TopK:             &topK,
		MaxOutputTokens:  int32(config.MaxOutputTokens),
		ResponseMIMEType: config.ResponseMimeType,
	}
	if config.ThinkingBudget != nil {
		genConfig.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(*config.ThinkingBudget)}
	}
	if grounded {
		genConfig.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	return genConfig
}

func extractTextFromGeminiResponse(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return ""
	}

	var texts []string
	for _, part := range candidate.Content.Parts {
		if part != nil && part.Text != "" && !part.Thought {
			texts = append(texts, part.Text)
		}
	}

	return strings.Join(texts, "")
}

// extractGroundingSources keeps web citations in order, dropping duplicate URLs.
func extractGroundingSources(resp *genai.GenerateContentResponse) []domain.CitedSource {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].GroundingMetadata == nil {
		return nil
	}

	seen := make(map[string]struct{})
	sources := make([]domain.CitedSource, 0)
	for _, chunk := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
		if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" {
			continue
		}
		if _, dup := seen[chunk.Web.URI]; dup {
			continue
		}
		seen[chunk.Web.URI] = struct{}{}
		title := chunk.Web.Title
		if title == "" {
			title = chunk.Web.Domain
		}
		sources = append(sources, domain.CitedSource{Title: title, URL: chunk.Web.URI})
	}
	return sources
}

// OpenAIProvider wraps the OpenAI chat completion client. It always uses the
// process-wide key it was built with.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
	logger       *zap.Logger
}

func NewOpenAIProvider(apiKey string, defaultModel string, logger *zap.Logger) *OpenAIProvider {
	if apiKey == "" {
		return nil
	}
	if defaultModel == "" {
		defaultModel = "gpt-4.1-mini"
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIProvider{
		client:       &client,
		defaultModel: defaultModel,
		logger:       util.OrNop(logger),
	}
}

func (o *OpenAIProvider) Name() string {
	return "OpenAI"
}

func (o *OpenAIProvider) DefaultModel() string {
	return o.defaultModel
}

func (o *OpenAIProvider) Generate(ctx context.Context, _ string, req Request) (ProviderResult, error) {
	if o == nil || o.client == nil {
		return ProviderResult{}, fmt.Errorf("OpenAI client not initialized")
	}

	modelName := req.Model
	if modelName == "" {
		modelName = o.defaultModel
	}
	config := GetPresetConfig(req.Preset)

	o.logger.Info("Generating with OpenAI",
		zap.String("model", modelName),
		zap.String("preset", string(req.Preset)),
	)

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage(req.Prompt),
	}
	if req.JSONMode {
		messages = []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You must respond with valid JSON only. Do not include any text outside the JSON object."),
			openai.UserMessage(req.Prompt),
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(modelName),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(config.MaxOutputTokens)),
	}

	// gpt-5 family rejects sampling parameters
	if !strings.HasPrefix(modelName, "gpt-5") {
		params.Temperature = openai.Float(float64(config.Temperature))
		params.TopP = openai.Float(float64(config.TopP))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		o.logger.Warn("OpenAI generation failed", zap.Error(err))
		return ProviderResult{}, err
	}

	if len(resp.Choices) == 0 {
		return ProviderResult{}, fmt.Errorf("no choices in OpenAI response")
	}

	text := resp.Choices[0].Message.Content

	o.logger.Info("OpenAI response received",
		zap.Int("length", len(text)),
		zap.Int64("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int64("completion_tokens", resp.Usage.CompletionTokens),
	)

	return ProviderResult{Text: text, Model: modelName}, nil
}
