package claude

import "testing"

func TestIsTrivialPrompt(t *testing.T) {
	cases := []struct {
		name   string
		prompt string
		want   bool
	}{
		{"short question", "What is UTC?", true},
		{"greeting", "hey there", true},
		{"empty", "   ", true},
		{"task keyword", "Fix this bug in my repository and run tests", false},
		{"long prompt", "Could you please explain in as much detail as you possibly can how the moon affects the tides across every single ocean on the planet including edge cases", false},
		{"multiline", "hello\nworld", false},
		{"keyword inside word is fine", "What does affix mean?", true},
		{"analyze", "analyze the logs", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTrivialPrompt(tc.prompt); got != tc.want {
				t.Fatalf("IsTrivialPrompt(%q) = %v, want %v", tc.prompt, got, tc.want)
			}
		})
	}
}
