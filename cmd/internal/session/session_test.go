package session

import (
	"fmt"
	"strings"
	"testing"
)

func TestHistoryTurnBound(t *testing.T) {
	t.Parallel()

	m := NewManager(WithMaxTurns(10), WithSystemPrompt("be brief"))

	for i := 0; i < 11; i++ {
		m.AppendUserTurn(1, fmt.Sprintf("question %d", i))
		m.AppendAssistantTurn(1, fmt.Sprintf("answer %d", i))
	}

	h := m.History(1)
	if len(h) != 10 {
		t.Fatalf("history len=%d want=10", len(h))
	}
	if h[0].Role != RoleSystem {
		t.Fatalf("first turn role=%s want=system", h[0].Role)
	}

	// The oldest non-system turns were dropped; the newest exchange stays.
	last := h[len(h)-1]
	if last.Role != RoleAssistant || last.Content != "answer 10" {
		t.Fatalf("last turn=%+v want newest assistant answer", last)
	}
}

func TestHistorySizeBudget(t *testing.T) {
	t.Parallel()

	m := NewManager(WithMaxTurns(10), WithSizeBudget(100))

	big := strings.Repeat("x", 60)
	m.AppendUserTurn(1, big)
	m.AppendAssistantTurn(1, big)
	m.AppendUserTurn(1, "latest")
	m.AppendAssistantTurn(1, "ok")

	h := m.History(1)
	size := 0
	for _, turn := range h {
		size += len(turn.Role) + len(turn.Content)
	}
	if size > 100 {
		t.Fatalf("serialized size=%d exceeds budget", size)
	}
	if len(h) == 0 {
		t.Fatal("history must never trim to empty")
	}
	if h[len(h)-1].Content != "ok" {
		t.Fatalf("newest turn lost: %+v", h)
	}
}

func TestHistoryNeverEmpty(t *testing.T) {
	t.Parallel()

	m := NewManager(WithSizeBudget(10))

	m.AppendUserTurn(1, "hello")
	m.AppendAssistantTurn(1, strings.Repeat("y", 500))

	h := m.History(1)
	if len(h) != 1 {
		t.Fatalf("history len=%d want=1 (single oversized turn kept)", len(h))
	}
}

func TestHistoryPerUserIsolation(t *testing.T) {
	t.Parallel()

	m := NewManager()

	m.AppendUserTurn(1, "from one")
	m.AppendUserTurn(2, "from two")

	h1 := m.History(1)
	h2 := m.History(2)
	if len(h1) != 1 || h1[0].Content != "from one" {
		t.Fatalf("user 1 history=%v", h1)
	}
	if len(h2) != 1 || h2[0].Content != "from two" {
		t.Fatalf("user 2 history=%v", h2)
	}
}

func TestHistoryReturnsCopy(t *testing.T) {
	t.Parallel()

	m := NewManager()
	m.AppendUserTurn(1, "original")

	h := m.History(1)
	h[0].Content = "mutated"

	if got := m.History(1)[0].Content; got != "original" {
		t.Fatalf("stored history mutated: %q", got)
	}
}

func TestFlowStateAccessors(t *testing.T) {
	t.Parallel()

	m := NewManager()

	if kind, step := m.ActiveFlow(1); kind != FlowNone || step != StepIdle {
		t.Fatalf("fresh flow kind=%q step=%v want idle", kind, step)
	}

	m.BeginFlow(1, FlowSpeech)
	if kind, step := m.ActiveFlow(1); kind != FlowSpeech || step != StepVoice {
		t.Fatalf("after begin kind=%q step=%v", kind, step)
	}

	m.ResetFlow(1)
	if kind, step := m.ActiveFlow(1); kind != FlowNone || step != StepIdle {
		t.Fatalf("after reset kind=%q step=%v", kind, step)
	}
}
