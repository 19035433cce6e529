package prompts

import (
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Render replaces {{name}} placeholders in template with values from vars.
// Pure string substitution: no conditionals, no loops. A placeholder with
// no value renders as an empty segment rather than failing.
func Render(template string, vars map[string]string) string {
	if template == "" {
		return ""
	}

	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(match, "{{"), "}}"))
		return vars[name]
	})
}
