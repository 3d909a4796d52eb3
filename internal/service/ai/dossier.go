package ai

import (
	"context"
	"strings"

	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/kapu/guest-research-go/internal/prompt"
	"github.com/kapu/guest-research-go/internal/util"
	"github.com/kapu/guest-research-go/pkg/errors"
	"go.uber.org/zap"
)

// DossierBuilder writes the web dossier: a search-grounded call first, then
// the model's own knowledge, then the secondary provider when one is set.
type DossierBuilder struct {
	mm     *ModelManager
	logger *zap.Logger
}

func NewDossierBuilder(mm *ModelManager, logger *zap.Logger) *DossierBuilder {
	return &DossierBuilder{mm: mm, logger: util.OrNop(logger)}
}

func (d *DossierBuilder) Build(ctx context.Context, apiKey, subject, userContext string) (*domain.WebDossier, error) {
	grounded, err := d.attempt(ctx, d.mm.Primary(), apiKey, subject, userContext, true)
	if err == nil {
		return grounded, nil
	}
	if errors.IsConfiguration(err) || ctx.Err() != nil {
		return nil, err
	}
	d.logger.Warn("Grounded dossier failed, retrying without search", zap.String("subject", subject), zap.Error(err))

	ungrounded, err := d.attempt(ctx, d.mm.Primary(), apiKey, subject, userContext, false)
	if err == nil {
		return ungrounded, nil
	}

	fallback := d.mm.Fallback()
	if fallback == nil || ctx.Err() != nil {
		return nil, err
	}
	d.logger.Warn("Primary dossier failed, using secondary provider",
		zap.String("provider", fallback.Name()),
		zap.Error(err),
	)
	return d.attempt(ctx, fallback, "", subject, userContext, false)
}

func (d *DossierBuilder) attempt(ctx context.Context, provider Provider, apiKey, subject, userContext string, grounded bool) (*domain.WebDossier, error) {
	promptText, err := prompt.BuildWebDossierPrompt(prompt.WebDossierData{
		Subject:  subject,
		Context:  userContext,
		Grounded: grounded,
	})
	if err != nil {
		return nil, err
	}

	result, err := d.mm.GenerateWith(ctx, provider, apiKey, Request{
		Prompt:       promptText,
		Preset:       PresetDossier,
		GoogleSearch: grounded,
	})
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(result.Text)
	if text == "" {
		return nil, errors.NewMalformedResponseError(provider.Name(), "", nil)
	}

	dossier := &domain.WebDossier{
		ProfileText:  text,
		SourceKind:   domain.DossierModelKnowledge,
		CitedSources: []domain.CitedSource{},
	}
	if grounded {
		dossier.SourceKind = domain.DossierLiveSearch
		if len(result.Sources) > 0 {
			dossier.CitedSources = result.Sources
		}
	}
	return dossier, nil
}
