package codex

import (
	"testing"

	"github.com/clawde-io/clawd/internal/provider"
)

func TestParseLineAgentMessageDelta(t *testing.T) {
	events := parseLine([]byte(`{"type":"agent_message_delta","msg":{"text":"hi"}}`))
	if len(events) != 1 || events[0].Kind != provider.EventMessageDelta || events[0].Text != "hi" {
		t.Fatalf("got %+v", events)
	}
}

func TestParseLineExecCommand(t *testing.T) {
	start := parseLine([]byte(`{"type":"exec_command_begin","call":{"id":"c1","command":"ls"}}`))
	if len(start) != 1 || start[0].Kind != provider.EventToolCallStart || start[0].ToolCallID != "c1" {
		t.Fatalf("got %+v", start)
	}

	end := parseLine([]byte(`{"type":"exec_command_end","call":{"id":"c1"},"output":"file.go"}`))
	if len(end) != 1 || end[0].Kind != provider.EventToolCallEnd || end[0].ToolCallID != "c1" {
		t.Fatalf("got %+v", end)
	}
}

func TestParseLineTaskComplete(t *testing.T) {
	events := parseLine([]byte(`{"type":"task_complete","session_id":"s1","input_tokens":5,"output_tokens":7}`))
	if len(events) != 1 || events[0].Kind != provider.EventMessageEnd || events[0].ResponseID != "s1" {
		t.Fatalf("got %+v", events)
	}
}

func TestParseLineError(t *testing.T) {
	events := parseLine([]byte(`{"type":"error","error":"disk full"}`))
	if len(events) != 1 || events[0].Kind != provider.EventError {
		t.Fatalf("got %+v", events)
	}
}
