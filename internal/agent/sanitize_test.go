package agent

import "testing"

func TestCleanAssistantText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "Here is the answer.", "Here is the answer."},
		{"think tags stripped", "<think>let me reason</think>The answer is 4.", "The answer is 4."},
		{"thinking tags stripped", "<thinking>\nhmm\n</thinking>\nDone.", "Done."},
		{"tool xml stripped", "<tool_call>{\"name\":\"bash\"}</tool_call>Done anyway.", "{\"name\":\"bash\"}Done anyway."},
		{"pure tool xml drops to empty", "<function_call name=\"bash\"></function_call>", ""},
		{"silent token survives", "[SILENT]", "[SILENT]"},
		{"empty stays empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CleanAssistantText(tc.in); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}
