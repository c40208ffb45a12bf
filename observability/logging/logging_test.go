package logging

import (
	"strings"
	"testing"
)

func TestRunLogTailReturnsMostRecentLinesInOrder(t *testing.T) {
	r := newRunLog(3)
	_, _ = r.Write([]byte("one\ntwo\nthree\nfour\n"))

	got := r.Tail(2)
	want := []string{"three", "four"}
	if len(got) != len(want) {
		t.Fatalf("expected %d lines, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestRunLogTailClampsToAvailableLines(t *testing.T) {
	r := newRunLog(10)
	_, _ = r.Write([]byte("only\n"))

	got := r.Tail(50)
	if len(got) != 1 || got[0] != "only" {
		t.Fatalf("expected a single line, got %v", got)
	}
}

func TestRunLogDropsOldestLinesBeyondMax(t *testing.T) {
	r := newRunLog(2)
	_, _ = r.Write([]byte("a\nb\nc\n"))

	got := r.Tail(10)
	want := []string{"b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %d lines, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestSetupReturnsUsableLoggerAndRunLog(t *testing.T) {
	log, runLog := Setup("htlc-oracled", "test", "")
	if log == nil {
		t.Fatalf("expected a non-nil logger")
	}
	log.Info("startup complete", "component", "test")

	if len(runLog.Tail(10)) == 0 {
		t.Fatalf("expected the run log to capture the line just logged")
	}
}

func TestSetupRedactsSensitiveStringFields(t *testing.T) {
	log, runLog := Setup("htlc-oracled", "test", "")
	log.Info("loaded signer", "signer_key", "0xdeadbeef", "component", "test")

	lines := runLog.Tail(1)
	if len(lines) != 1 {
		t.Fatalf("expected one captured line, got %d", len(lines))
	}
	line := lines[0]
	if strings.Contains(line, "0xdeadbeef") {
		t.Fatalf("expected signer_key to be redacted, got: %s", line)
	}
	if !strings.Contains(line, RedactedValue) {
		t.Fatalf("expected redacted placeholder in line: %s", line)
	}
	if !strings.Contains(line, `"component":"test"`) {
		t.Fatalf("expected non-sensitive component field to survive unmasked: %s", line)
	}
}

func TestSetupLeavesStructuralTradeFieldsUnmasked(t *testing.T) {
	log, runLog := Setup("htlc-oracled", "test", "")
	log.Info("dispatching event", "trade_id", "42", "chain", "asset", "correlation_id", "abc-123", "account", "0xfeed")

	lines := runLog.Tail(1)
	if len(lines) != 1 {
		t.Fatalf("expected one captured line, got %d", len(lines))
	}
	line := lines[0]
	for _, want := range []string{`"trade_id":"42"`, `"chain":"asset"`, `"correlation_id":"abc-123"`, `"account":"0xfeed"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected structural field to survive unmasked, missing %s in: %s", want, line)
		}
	}
	if strings.Contains(line, RedactedValue) {
		t.Fatalf("expected no redaction on a line with only structural fields: %s", line)
	}
}
