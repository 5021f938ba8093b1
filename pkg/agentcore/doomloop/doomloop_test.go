package doomloop

import "testing"

func TestRepeatTripsBreaker(t *testing.T) {
	d := New(DefaultConfig(), nil)

	var last Result
	for i := 0; i < 3; i++ {
		last = d.RecordAndCheck("read_file", `{"path":"a.go"}`)
	}
	if last.Severity != SeverityBreaker {
		t.Fatalf("expected breaker after 3 identical calls, got %v", last.Severity)
	}
	if last.Pattern != "repeat" {
		t.Fatalf("expected pattern 'repeat', got %q", last.Pattern)
	}
}

func TestDifferentArgsDoNotTripRepeat(t *testing.T) {
	d := New(DefaultConfig(), nil)

	for i := 0; i < 3; i++ {
		d.RecordAndCheck("read_file", `{"path":"different.go"}`)
	}
	r := d.RecordAndCheck("read_file", `{"path":"distinct.go"}`)
	if r.Severity == SeverityBreaker && r.Pattern == "repeat" {
		t.Fatal("distinct arguments should not be treated as a repeat")
	}
}

func TestWhitespaceNormalizedBeforeHashing(t *testing.T) {
	d := New(DefaultConfig(), nil)

	d.RecordAndCheck("bash", "ls   -la")
	d.RecordAndCheck("bash", "ls -la\n")
	r := d.RecordAndCheck("bash", "ls -la")
	if r.Severity != SeverityBreaker {
		t.Fatalf("expected whitespace-normalized calls to count as identical, got %v", r.Severity)
	}
}

func TestDestructiveBatchTripsBreaker(t *testing.T) {
	cfg := DefaultConfig()
	d := New(cfg, nil)

	d.RecordAndCheck("delete_file", `{"path":"a.go"}`)
	d.RecordAndCheck("delete_file", `{"path":"b.go"}`)
	r := d.RecordAndCheck("delete_file", `{"path":"c.go"}`)
	if r.Severity != SeverityBreaker || r.Pattern != "destructive-batch" {
		t.Fatalf("expected destructive-batch breaker, got %v/%q", r.Severity, r.Pattern)
	}
}

func TestPingPongTripsBreaker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PingPongStreak = 4
	d := New(cfg, nil)

	calls := []struct{ name, args string }{
		{"tool_a", "1"}, {"tool_b", "1"}, {"tool_a", "1"}, {"tool_b", "1"},
	}
	var last Result
	for _, c := range calls {
		last = d.RecordAndCheck(c.name, c.args)
	}
	if last.Severity != SeverityBreaker || last.Pattern != "ping-pong" {
		t.Fatalf("expected ping-pong breaker, got %v/%q", last.Severity, last.Pattern)
	}
}

func TestDisabledDetectorNeverTrips(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	d := New(cfg, nil)

	for i := 0; i < 10; i++ {
		r := d.RecordAndCheck("read_file", `{"path":"a.go"}`)
		if r.Severity != SeverityNone {
			t.Fatalf("disabled detector should never report a severity, got %v", r.Severity)
		}
	}
}

func TestResetClearsHistory(t *testing.T) {
	d := New(DefaultConfig(), nil)
	d.RecordAndCheck("read_file", `{"path":"a.go"}`)
	d.RecordAndCheck("read_file", `{"path":"a.go"}`)
	d.Reset()
	r := d.RecordAndCheck("read_file", `{"path":"a.go"}`)
	if r.Severity != SeverityNone {
		t.Fatalf("expected fresh history after reset, got %v", r.Severity)
	}
}

func TestNormalizeForDoomLoopIdempotent(t *testing.T) {
	inputs := []string{
		"ran [tool_use: bash(call_123)] then got [tool_result: call_123]",
		"no placeholders here",
		"[tool_use: read_file(abc)] and [tool_result: abc] twice [tool_use: read_file(xyz)]",
	}
	for _, in := range inputs {
		once := NormalizeForDoomLoop(in)
		twice := NormalizeForDoomLoop(once)
		if once != twice {
			t.Fatalf("normalize not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestNormalizeForDoomLoopStripsVolatileIDs(t *testing.T) {
	a := NormalizeForDoomLoop("[tool_use: bash(call_1)] [tool_result: call_1]")
	b := NormalizeForDoomLoop("[tool_use: bash(call_2)] [tool_result: call_2]")
	if a != b {
		t.Fatalf("expected id-normalized strings to match, got %q vs %q", a, b)
	}
}

func TestRepeatedOutputsTripsOnThreeIdenticalHashes(t *testing.T) {
	d := New(DefaultConfig(), nil)
	d.PushMessageHash("same output")
	if d.RepeatedOutputs() {
		t.Fatal("should not trip after one")
	}
	d.PushMessageHash("same output")
	if d.RepeatedOutputs() {
		t.Fatal("should not trip after two")
	}
	d.PushMessageHash("same output")
	if !d.RepeatedOutputs() {
		t.Fatal("should trip after three identical consecutive outputs")
	}
}

func TestRepeatedOutputsDoesNotTripOnDifferentOutputs(t *testing.T) {
	d := New(DefaultConfig(), nil)
	d.PushMessageHash("a")
	d.PushMessageHash("b")
	d.PushMessageHash("a")
	if d.RepeatedOutputs() {
		t.Fatal("alternating outputs must not trip the repeated-output check")
	}
}
