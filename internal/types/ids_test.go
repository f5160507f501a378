// internal/types/ids_test.go
package types

import (
	"testing"
)

func TestNewSessionID(t *testing.T) {
	id := NewSessionID()
	if id == "" {
		t.Error("expected non-empty SessionID")
	}
	if len(string(id)) != 36 {
		t.Errorf("expected UUID format, got %s", id)
	}
}

func TestNewMessageIDUnique(t *testing.T) {
	a, b := NewMessageID(), NewMessageID()
	if a == b {
		t.Errorf("expected distinct message ids, got %s twice", a)
	}
}

func TestReplyKeyFormat(t *testing.T) {
	key := NewReplyKey("telegram", "123")
	if key != ReplyKey("telegram:123") {
		t.Errorf("expected telegram:123, got %s", key)
	}
	if key.Transport() != "telegram" {
		t.Errorf("expected transport telegram, got %s", key.Transport())
	}
	if ReplyKey("http").Transport() != "http" {
		t.Errorf("expected bare key to be its own transport")
	}
}
