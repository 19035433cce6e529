package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		template string
		vars     map[string]string
		want     string
	}{
		{
			"single placeholder",
			"Task: {{task}}",
			map[string]string{"task": "討論交通"},
			"Task: 討論交通",
		},
		{
			"repeated placeholder",
			"{{name}} and {{name}}",
			map[string]string{"name": "a"},
			"a and a",
		},
		{
			"missing value becomes empty",
			"before {{unknown}} after",
			map[string]string{},
			"before  after",
		},
		{
			"nil vars",
			"{{x}}",
			nil,
			"",
		},
		{
			"no placeholders",
			"static text",
			map[string]string{"x": "y"},
			"static text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Render(tt.template, tt.vars); got != tt.want {
				t.Errorf("Render = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRegistryDefaults(t *testing.T) {
	registry, err := NewRegistry("")
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	for _, name := range []string{TutorTurn, SubtaskCheck, ModerationCheck, OffTopicCheck, LanguageCleanup, ConversationSummary, GroupConcept, EngagementScore} {
		if registry.Get(name) == "" {
			t.Errorf("no default template for %q", name)
		}
	}
	if registry.Get("nonexistent") != "" {
		t.Error("unknown name should return empty")
	}
}

func TestRegistryOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	content := "tutor_turn: \"custom tutor prompt {{task}}\"\nbogus_name: \"ignored\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	registry, err := NewRegistry(path)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	if got := registry.Get(TutorTurn); got != "custom tutor prompt {{task}}" {
		t.Errorf("override not applied, got %q", got)
	}
	// Unlisted names keep their defaults.
	if !strings.Contains(registry.Get(SubtaskCheck), "{{subtasks}}") {
		t.Error("default subtask template lost")
	}
}
