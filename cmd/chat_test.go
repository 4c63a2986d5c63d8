package cmd

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestChatCommand_SwitchUserStartsNewSession(t *testing.T) {
	st := &chatState{userID: "cli", sessionID: "s-old"}

	out, err := st.command(context.Background(), nil, `/user "alice smith"`)
	if err != nil {
		t.Fatalf("command: %v", err)
	}
	if st.userID != "alice smith" {
		t.Errorf("userID = %q, want quoted arg kept whole", st.userID)
	}
	if st.sessionID == "s-old" || !strings.HasPrefix(st.sessionID, "cli-") {
		t.Errorf("sessionID = %q, want a fresh cli- session", st.sessionID)
	}
	if !strings.Contains(out, "alice smith") {
		t.Errorf("output = %q", out)
	}
}

func TestChatCommand_Session(t *testing.T) {
	st := &chatState{userID: "u", sessionID: "a"}
	if _, err := st.command(context.Background(), nil, "/session b"); err != nil {
		t.Fatalf("command: %v", err)
	}
	if st.sessionID != "b" {
		t.Errorf("sessionID = %q", st.sessionID)
	}
	if _, err := st.command(context.Background(), nil, "/session"); err == nil {
		t.Error("expected usage error without an id")
	}
}

func TestChatCommand_ToggleAndUnknown(t *testing.T) {
	st := &chatState{}
	if _, err := st.command(context.Background(), nil, "/details"); err != nil || !st.details {
		t.Fatalf("details = %v, err = %v", st.details, err)
	}
	if _, err := st.command(context.Background(), nil, "/bogus"); !errors.Is(err, errUnknownCommand) {
		t.Errorf("err = %v, want errUnknownCommand", err)
	}
	if _, err := st.command(context.Background(), nil, `/user "unterminated`); err == nil {
		t.Error("expected parse error for unterminated quote")
	}
	if _, err := st.command(context.Background(), nil, "/clear"); err == nil {
		t.Error("expected error without an app")
	}
}

func TestTruncateStr(t *testing.T) {
	if got := truncateStr("héllo", 10); got != "héllo" {
		t.Errorf("short string changed: %q", got)
	}
	if got := truncateStr("abcdefghij", 6); got != "abc..." {
		t.Errorf("truncateStr = %q", got)
	}
}
