package claude

import (
	"testing"

	"github.com/clawde-io/clawd/internal/provider"
)

func TestParseLineAssistantDelta(t *testing.T) {
	events := parseLine([]byte(`{"type":"assistant","delta":{"text":"hello"}}`))
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Kind != provider.EventMessageDelta || events[0].Text != "hello" {
		t.Errorf("got %+v", events[0])
	}
}

func TestParseLineToolUse(t *testing.T) {
	events := parseLine([]byte(`{"type":"tool_use","tool_use_id":"t1","name":"read_file","input":{"path":"a.go"}}`))
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != provider.EventToolCallStart || ev.ToolCallID != "t1" || ev.ToolName != "read_file" {
		t.Errorf("got %+v", ev)
	}
}

func TestParseLineResultSuccess(t *testing.T) {
	events := parseLine([]byte(`{"type":"result","is_error":false,"response_id":"r1","input_tokens":10,"output_tokens":20,"total_cost_usd":0.01}`))
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != provider.EventMessageEnd || ev.ResponseID != "r1" || ev.Usage.InputTokens != 10 {
		t.Errorf("got %+v", ev)
	}
}

func TestParseLineResultError(t *testing.T) {
	events := parseLine([]byte(`{"type":"result","is_error":true,"error":"boom"}`))
	if len(events) != 1 || events[0].Kind != provider.EventError {
		t.Fatalf("got %+v, want a single error event", events)
	}
}

func TestParseLineMalformedIgnored(t *testing.T) {
	events := parseLine([]byte(`not json`))
	if events != nil {
		t.Errorf("expected malformed line to yield no events, got %+v", events)
	}
}

func TestParseLineUnknownTypeIgnored(t *testing.T) {
	events := parseLine([]byte(`{"type":"ping"}`))
	if events != nil {
		t.Errorf("expected unknown type to yield no events, got %+v", events)
	}
}
