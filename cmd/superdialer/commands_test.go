package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/superdialer/internal/dialer"
	"github.com/MarcoPoloResearchLab/superdialer/internal/history"
)

func TestPrintHistoryFiltersByTag(t *testing.T) {
	state := dialer.ViewState{
		CallHistory: []history.CallRecord{
			{Number: "+1555", Direction: history.DirectionMissed, Timestamp: time.UnixMilli(1700000300000)},
			{Number: "+1666", Direction: history.DirectionIncoming, Timestamp: time.UnixMilli(1700000200000), Duration: 42 * time.Second},
		},
		TagsByNumber: map[string]string{"+1666": "Family"},
		ContactNames: map[string]string{"+1666": "Bob"},
	}

	var all bytes.Buffer
	if err := printHistory(&all, state, map[string]int{"+1555": 2}, historyFilter{}); err != nil {
		t.Fatalf("unexpected print error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(all.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got %q", all.String())
	}
	if !strings.Contains(lines[1], "+1555") || !strings.HasSuffix(strings.TrimSpace(lines[1]), "2") {
		t.Fatalf("unexpected first row %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "Bob") || !strings.Contains(lines[2], "Family") || !strings.Contains(lines[2], "42s") {
		t.Fatalf("unexpected second row %q", lines[2])
	}

	var filtered bytes.Buffer
	if err := printHistory(&filtered, state, nil, historyFilter{tag: "Family"}); err != nil {
		t.Fatalf("unexpected print error: %v", err)
	}
	lines = strings.Split(strings.TrimSpace(filtered.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "+1666") {
		t.Fatalf("expected only the tagged number, got %q", filtered.String())
	}
}

func TestPrintHistoryFiltersByDirectionAndNumber(t *testing.T) {
	state := dialer.ViewState{
		CallHistory: []history.CallRecord{
			{Number: "+1 555-0100", Direction: history.DirectionMissed, Timestamp: time.UnixMilli(1700000300000)},
			{Number: "+1666", Direction: history.DirectionIncoming, Timestamp: time.UnixMilli(1700000200000)},
			{Number: "+15550100", Direction: history.DirectionOutgoing, Timestamp: time.UnixMilli(1700000100000)},
		},
	}

	var missed bytes.Buffer
	if err := printHistory(&missed, state, nil, historyFilter{direction: history.DirectionMissed}); err != nil {
		t.Fatalf("unexpected print error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(missed.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "Missed") {
		t.Fatalf("expected only the missed call, got %q", missed.String())
	}

	var number bytes.Buffer
	if err := printHistory(&number, state, nil, historyFilter{number: "+15550100"}); err != nil {
		t.Fatalf("unexpected print error: %v", err)
	}
	lines = strings.Split(strings.TrimSpace(number.String()), "\n")
	if len(lines) != 3 || strings.Contains(number.String(), "+1666") {
		t.Fatalf("expected both calls of the number, got %q", number.String())
	}
}

func TestHistoryRejectsUnknownDirection(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"history", "--direction", "Rejected"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); !errors.Is(err, history.ErrUnknownDirection) {
		t.Fatalf("expected unknown direction error, got %v", err)
	}
}

func TestIssueTokenRequiresSigningSecret(t *testing.T) {
	t.Setenv("SUPERDIALER_AUTH_SIGNING_SECRET", "")
	cmd := newRootCommand()
	cmd.SetArgs([]string{"issue-token", "--device", "pixel-7"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "signing_secret") {
		t.Fatalf("expected auth disabled error, got %v", err)
	}
}
