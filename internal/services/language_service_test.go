package services

import (
	"context"
	"testing"

	"discourse/internal/prompts"
)

func newTestLanguageService(caller *fakeCaller) *LanguageService {
	registry, err := prompts.NewRegistry("")
	if err != nil {
		panic(err)
	}
	return NewLanguageService(caller, registry)
}

func TestCleanKeepsOriginalWhenNothingForeign(t *testing.T) {
	caller := &fakeCaller{cleanup: languageCheckOutput{
		ContainsForeignLanguage: false,
		RevisedText:             "不應該用到的文字",
	}}
	svc := newTestLanguageService(caller)

	result, err := svc.Clean(context.Background(), "原本的句子")
	if err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if result.ContainsForeignLanguage {
		t.Error("flagged clean text as foreign")
	}
	if result.RevisedText != "原本的句子" {
		t.Errorf("revised text %q, want original", result.RevisedText)
	}
}

func TestCleanSubstitutesRevisedText(t *testing.T) {
	caller := &fakeCaller{cleanup: languageCheckOutput{
		ContainsForeignLanguage: true,
		RevisedText:             "改寫後的句子",
	}}
	svc := newTestLanguageService(caller)

	result, err := svc.Clean(context.Background(), "a sentence in English")
	if err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if !result.ContainsForeignLanguage {
		t.Error("foreign content not flagged")
	}
	if result.RevisedText != "改寫後的句子" {
		t.Errorf("revised text %q", result.RevisedText)
	}
}

func TestCleanStripsSpeakerLabels(t *testing.T) {
	caller := &fakeCaller{cleanup: languageCheckOutput{
		ContainsForeignLanguage: true,
		RevisedText:             "學生：改寫後的句子",
	}}
	svc := newTestLanguageService(caller)

	result, err := svc.Clean(context.Background(), "something english")
	if err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if result.RevisedText != "改寫後的句子" {
		t.Errorf("speaker label not stripped: %q", result.RevisedText)
	}
}

func TestCleanEmptyRevisionFallsBack(t *testing.T) {
	// A detection with an empty rewrite must never erase the text.
	caller := &fakeCaller{cleanup: languageCheckOutput{
		ContainsForeignLanguage: true,
		RevisedText:             "老師：",
	}}
	svc := newTestLanguageService(caller)

	result, err := svc.Clean(context.Background(), "原文")
	if err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if result.ContainsForeignLanguage {
		t.Error("empty revision should not count as a substitution")
	}
	if result.RevisedText != "原文" {
		t.Errorf("revised text %q, want original", result.RevisedText)
	}
}

func TestCleanAll(t *testing.T) {
	caller := &fakeCaller{cleanup: languageCheckOutput{
		ContainsForeignLanguage: true,
		RevisedText:             "改寫",
	}}
	svc := newTestLanguageService(caller)

	cleaned, err := svc.CleanAll(context.Background(), []string{"one", "two", ""})
	if err != nil {
		t.Fatalf("CleanAll failed: %v", err)
	}
	if len(cleaned) != 3 {
		t.Fatalf("got %d units, want 3", len(cleaned))
	}
	if cleaned[0] != "改寫" || cleaned[1] != "改寫" {
		t.Errorf("units not substituted: %v", cleaned)
	}
	if cleaned[2] != "" {
		t.Errorf("empty unit should stay empty, got %q", cleaned[2])
	}
}
