package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kapu/guest-research-go/internal/constants"
	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/kapu/guest-research-go/internal/prompt"
	"github.com/kapu/guest-research-go/internal/util"
	"github.com/kapu/guest-research-go/pkg/errors"
	"go.uber.org/zap"
)

// QuestionGenerator walks a ladder of models, trying each a fixed number of
// times, until one returns a usable question set.
type QuestionGenerator struct {
	mm            *ModelManager
	models        []string
	triesPerModel int
	cooldown      time.Duration
	sleep         util.Sleeper
	logger        *zap.Logger
}

func NewQuestionGenerator(mm *ModelManager, models []string, logger *zap.Logger) *QuestionGenerator {
	return &QuestionGenerator{
		mm:            mm,
		models:        models,
		triesPerModel: constants.QuestionConfig.TriesPerModel,
		cooldown:      constants.QuestionConfig.RateLimitCooldown,
		sleep:         util.SleepContext,
		logger:        util.OrNop(logger),
	}
}

// WithSleeper replaces the cooldown wait.
func (g *QuestionGenerator) WithSleeper(sleep util.Sleeper) *QuestionGenerator {
	g.sleep = sleep
	return g
}

// Generate never returns a Go error; every failure is reported in the result.
func (g *QuestionGenerator) Generate(ctx context.Context, req domain.QuestionRequest) domain.QuestionResult {
	if strings.TrimSpace(req.GuestName) == "" {
		return domain.QuestionResult{Error: "guest name is required"}
	}
	if len(g.models) == 0 {
		return domain.QuestionResult{Error: "no question models configured"}
	}

	apiKey, err := g.mm.ResolveKey(req.Keys.LLMKey)
	if err != nil {
		return domain.QuestionResult{Error: errors.UserMessage(err)}
	}

	count := req.Count
	if count <= 0 {
		count = constants.QuestionConfig.DefaultCount
	}
	count = min(count, constants.QuestionConfig.MaxCount)

	promptText, err := prompt.BuildQuestionsPrompt(prompt.QuestionsData{
		InterviewerName:       req.Interviewer.Name,
		ShowName:              req.Interviewer.ShowName,
		Audience:              req.Interviewer.Audience,
		Style:                 req.Interviewer.Style,
		InterviewerBackground: req.Interviewer.Background,
		GuestName:             req.GuestName,
		GuestContext:          req.GuestContext,
		Research:              util.TruncateString(req.ResearchNarrative, constants.QuestionConfig.MaxResearchChars),
		Count:                 count,
	})
	if err != nil {
		return domain.QuestionResult{Error: err.Error()}
	}

	rungs := g.ladder()
	attempts := 0
	var lastErr error
	for _, r := range rungs {
		model := r.model
		for try := 1; try <= g.triesPerModel; try++ {
			if ctx.Err() != nil {
				return domain.QuestionResult{Attempts: attempts, Error: ctx.Err().Error()}
			}
			attempts++

			var set domain.QuestionSet
			_, err := g.mm.GenerateJSON(ctx, r.provider, apiKey, Request{
				Prompt: promptText,
				Preset: PresetQuestions,
				Model:  model,
			}, &set)
			if err == nil && len(set.Questions) == 0 {
				err = errors.NewMalformedResponseError(model, "no questions", nil)
			}
			if err == nil {
				g.logger.Info("Questions generated",
					zap.String("model", model),
					zap.Int("attempts", attempts),
					zap.Int("count", len(set.Questions)),
				)
				return domain.QuestionResult{Success: true, Model: r.label(), Attempts: attempts, Set: &set}
			}

			lastErr = err
			g.logger.Warn("Question generation attempt failed",
				zap.String("model", model),
				zap.Int("try", try),
				zap.Error(err),
			)
			if errors.IsConfiguration(err) {
				return domain.QuestionResult{Attempts: attempts, Error: errors.UserMessage(err)}
			}
			if errors.IsRateLimited(err) && attempts < len(rungs)*g.triesPerModel {
				if err := g.sleep(ctx, g.cooldown); err != nil {
					return domain.QuestionResult{Attempts: attempts, Error: err.Error()}
				}
			}
		}
	}

	return domain.QuestionResult{
		Attempts: attempts,
		Error:    fmt.Sprintf("all %d question models failed: %v", len(rungs), lastErr),
	}
}

type rung struct {
	provider Provider
	model    string
}

func (r rung) label() string {
	if r.model != "" {
		return r.model
	}
	return r.provider.Name()
}

// ladder is the configured primary models followed by the secondary
// provider's default model when one is set.
func (g *QuestionGenerator) ladder() []rung {
	rungs := make([]rung, 0, len(g.models)+1)
	for _, model := range g.models {
		rungs = append(rungs, rung{provider: g.mm.Primary(), model: model})
	}
	if fallback := g.mm.Fallback(); fallback != nil {
		rungs = append(rungs, rung{provider: fallback})
	}
	return rungs
}
