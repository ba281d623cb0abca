package sanitize

import "testing"

func TestClean(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		agent string
		want  string
	}{
		{
			name:  "plain reply untouched",
			reply: "I think we should start with the basics.",
			agent: "Gosha",
			want:  "I think we should start with the basics.",
		},
		{
			name:  "echoed transcript line",
			reply: "At 2024-03-01 09:15 Gosha said: hello there",
			agent: "Gosha",
			want:  "hello there",
		},
		{
			name:  "echoed line with seconds",
			reply: "At 2024-03-01 09:15:30 Joshi said: fine by me",
			agent: "Joshi",
			want:  "fine by me",
		},
		{
			name:  "name label with space",
			reply: "Gosha: my answer",
			agent: "Gosha",
			want:  "my answer",
		},
		{
			name:  "name label without space",
			reply: "Joshi:short",
			agent: "Joshi",
			want:  "short",
		},
		{
			name:  "label case insensitive",
			reply: "GOSHA: loud answer",
			agent: "Gosha",
			want:  "loud answer",
		},
		{
			name:  "stacked labels all stripped",
			reply: "Gosha: Gosha: nested",
			agent: "Gosha",
			want:  "nested",
		},
		{
			name:  "echo then label",
			reply: "At 2024-03-01 09:15 Gosha said: Gosha: layered",
			agent: "Gosha",
			want:  "layered",
		},
		{
			name:  "other agents label is kept",
			reply: "Joshi: not my line",
			agent: "Gosha",
			want:  "Joshi: not my line",
		},
		{
			name:  "name mid-sentence is kept",
			reply: "I told Gosha: be careful",
			agent: "Gosha",
			want:  "I told Gosha: be careful",
		},
		{
			name:  "strip to empty returns original",
			reply: "Gosha:",
			agent: "Gosha",
			want:  "Gosha:",
		},
		{
			name:  "empty reply stays empty",
			reply: "",
			agent: "Gosha",
			want:  "",
		},
		{
			name:  "whitespace only stays as is",
			reply: "   ",
			agent: "Gosha",
			want:  "   ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.reply, tt.agent); got != tt.want {
				t.Errorf("Clean(%q, %q) = %q, want %q", tt.reply, tt.agent, got, tt.want)
			}
		})
	}
}

func TestCleanIdempotent(t *testing.T) {
	inputs := []string{
		"At 2024-03-01 09:15 Gosha said: hello",
		"Gosha: Gosha: Gosha: deep",
		"At 2024-03-01 09:15 Gosha said: At 2024-02-01 08:00 Joshi said: relayed",
		"ordinary reply",
		"Gosha:",
		"",
	}
	for _, in := range inputs {
		once := Clean(in, "Gosha")
		twice := Clean(once, "Gosha")
		if once != twice {
			t.Errorf("Clean not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}
