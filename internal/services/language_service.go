package services

import (
	"context"

	"discourse/internal/llm"
	"discourse/internal/prompts"
	"discourse/internal/utils"
)

// CleanupResult is the outcome of one foreign-language cleanup pass.
type CleanupResult struct {
	ContainsForeignLanguage bool
	RevisedText             string
}

// languageCheckOutput is the structured shape returned by the cleanup call.
type languageCheckOutput struct {
	ContainsForeignLanguage bool   `json:"contains_foreign_language"`
	RevisedText             string `json:"revised_text"`
}

var languageCheckSchema = llm.Schema{
	Name: "language_check",
	Properties: map[string]llm.Property{
		"contains_foreign_language": {Type: "boolean"},
		"revised_text":              {Type: "string"},
	},
	Required: []string{"contains_foreign_language", "revised_text"},
}

// LanguageService detects and rewrites foreign-language content so that
// persisted text stays in the target language. Applied per textual unit
// (each summary bullet, each keyword, each paragraph); callers iterate.
type LanguageService struct {
	caller   llm.Caller
	registry *prompts.Registry
}

// NewLanguageService creates a language cleanup service.
func NewLanguageService(caller llm.Caller, registry *prompts.Registry) *LanguageService {
	return &LanguageService{caller: caller, registry: registry}
}

// Clean runs the cleanup pass over one textual unit. The revised text
// has residual speaker-label markers stripped and is trimmed.
func (s *LanguageService) Clean(ctx context.Context, text string) (CleanupResult, error) {
	if text == "" {
		return CleanupResult{RevisedText: ""}, nil
	}

	system := prompts.Render(s.registry.Get(prompts.LanguageCleanup), map[string]string{
		"text": text,
	})

	var out languageCheckOutput
	err := s.caller.Complete(ctx, llm.Request{
		System:      system,
		History:     []llm.Message{{Role: "user", Content: text}},
		Schema:      languageCheckSchema,
		Temperature: 0.0,
		TopP:        1.0,
	}, &out)
	if err != nil {
		return CleanupResult{}, err
	}

	revised := utils.StripSpeakerLabels(out.RevisedText)
	if !out.ContainsForeignLanguage || revised == "" {
		return CleanupResult{ContainsForeignLanguage: false, RevisedText: text}, nil
	}

	return CleanupResult{ContainsForeignLanguage: true, RevisedText: revised}, nil
}

// CleanAll runs Clean over every unit independently, substituting
// revised text where foreign content was detected. Fails on the first
// gateway error.
func (s *LanguageService) CleanAll(ctx context.Context, units []string) ([]string, error) {
	cleaned := make([]string, len(units))
	for i, unit := range units {
		result, err := s.Clean(ctx, unit)
		if err != nil {
			return nil, err
		}
		cleaned[i] = result.RevisedText
	}
	return cleaned, nil
}
