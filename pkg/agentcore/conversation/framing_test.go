package conversation

import "testing"

func TestParseToolOutputCanonical(t *testing.T) {
	framed := FrameToolOutput("bash", "hello\nworld")
	got, ok := ParseToolOutput(framed)
	if !ok {
		t.Fatal("canonical framing not recognized")
	}
	if got.ToolName != "bash" || got.Body != "hello\nworld" {
		t.Fatalf("parsed = %+v", got)
	}
}

func TestParseToolOutputLegacy(t *testing.T) {
	cases := []struct {
		text     string
		wantName string
		wantBody string
	}{
		{"[tool output]\n```\n$ ls\nmain.go\n```", "bash", "$ ls\nmain.go"},
		{"[tool output]\n```\nplain result\n```", "tool", "plain result"},
	}
	for _, c := range cases {
		got, ok := ParseToolOutput(c.text)
		if !ok {
			t.Fatalf("legacy framing not recognized: %q", c.text)
		}
		if got.ToolName != c.wantName || got.Body != c.wantBody {
			t.Fatalf("parsed %q = %+v, want (%s, %q)", c.text, got, c.wantName, c.wantBody)
		}
	}
}

func TestParseToolOutputNative(t *testing.T) {
	got, ok := ParseToolOutput("[tool_result: call_42]\nexit 0")
	if !ok {
		t.Fatal("native framing not recognized")
	}
	if got.ToolUseID != "call_42" || got.Body != "exit 0" {
		t.Fatalf("parsed = %+v", got)
	}
}

func TestParseToolOutputRejectsPlainText(t *testing.T) {
	if _, ok := ParseToolOutput("just some text"); ok {
		t.Fatal("plain text must not parse as a tool output")
	}
	if _, ok := ParseToolOutput("[tool output: unterminated"); ok {
		t.Fatal("unterminated header must not parse")
	}
}
