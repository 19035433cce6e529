package utils

import "testing"

func TestNormalizeFullWidth(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"cjk punctuation converted", "很好,你說得對!", "很好，你說得對！"},
		{"question and colon", "為什麼?因為:效率", "為什麼？因為：效率"},
		{"period to ideographic stop", "我同意.", "我同意。"},
		{"decimal number preserved", "成長了3.5倍", "成長了3.5倍"},
		{"parentheses", "方案(一)", "方案（一）"},
		{"ascii-only text untouched", "plain, english. text!", "plain, english. text!"},
		{"whitespace trimmed", "  你好  ", "你好"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeFullWidth(tt.in); got != tt.want {
				t.Errorf("NormalizeFullWidth(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStripSpeakerLabels(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"chinese label", "學生：我認為這樣可行", "我認為這樣可行"},
		{"english label", "Teacher: let us continue", "let us continue"},
		{"stacked labels", "老師：學生：你好", "你好"},
		{"per line", "學生：第一點\n老師：第二點", "第一點\n第二點"},
		{"no label untouched", "這句話沒有標記", "這句話沒有標記"},
		{"label mid-sentence kept", "我問了老師：該怎麼辦", "我問了老師：該怎麼辦"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripSpeakerLabels(tt.in); got != tt.want {
				t.Errorf("StripSpeakerLabels(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
