package router

import (
	"strings"
	"testing"
)

func TestBuildFinalMessage(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "failure text passes through verbatim",
			in:   "The build failed with two compile errors.",
			want: "The build failed with two compile errors.",
		},
		{
			name: "clear success collapses to the fixed statement",
			in:   "I finished the refactor and all tests pass.",
			want: CompletionStatement,
		},
		{
			name: "ambiguous text gets the unconfirmed suffix",
			in:   "The repository has three branches.",
			want: "The repository has three branches.\n\n(could not confirm completion)",
		},
		{
			name: "empty output is unconfirmed",
			in:   "   ",
			want: "(could not confirm completion)",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := BuildFinalMessage(tc.in); got != tc.want {
				t.Fatalf("BuildFinalMessage(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSanitizeOutputStripsNarration(t *testing.T) {
	in := "I'll use the file search tool to find the config.\n" +
		"The config lives in config.json under the project root.\n" +
		"Let me run the tests now.\n" +
		"All good."
	got := SanitizeOutput(in)

	if strings.Contains(got, "I'll use") || strings.Contains(got, "Let me run") {
		t.Fatalf("narration survived: %q", got)
	}
	if !strings.Contains(got, "config.json under the project root") {
		t.Fatalf("real content lost: %q", got)
	}
	if !strings.Contains(got, "All good.") {
		t.Fatalf("closing line lost: %q", got)
	}
}

func TestSanitizeOutputKeepsFirstPersonWithoutTooling(t *testing.T) {
	in := "I'm happy to help with that."
	if got := SanitizeOutput(in); got != in {
		t.Fatalf("SanitizeOutput(%q) = %q", in, got)
	}
}

func TestSanitizeOutputNeverReturnsEmptyForNonEmptyInput(t *testing.T) {
	in := "I'll run the search tool."
	if got := SanitizeOutput(in); got != in {
		t.Fatalf("expected fallback to original, got %q", got)
	}
}
