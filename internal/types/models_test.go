// internal/types/models_test.go
package types

import (
	"errors"
	"testing"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		token string
		want  Action
		ok    bool
	}{
		{"select:Flowise", Action{Kind: ActionSelect, Session: "Flowise"}, true},
		{"new", Action{Kind: ActionNew}, true},
		{"flags", Action{Kind: ActionFlags}, true},
		{"send", Action{Kind: ActionSend}, true},
		{"exit", Action{Kind: ActionExit}, true},
		{"delete", Action{Kind: ActionDelete}, true},
		{"menu", Action{Kind: ActionMenu}, true},
		{"select:", Action{}, false},
		{"bogus", Action{}, false},
		{"", Action{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseAction(tt.token)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseAction(%q) = %+v, %v; want %+v, %v", tt.token, got, ok, tt.want, tt.ok)
		}
	}
}

func TestActionTokenRoundTrip(t *testing.T) {
	for _, a := range []Action{{Kind: ActionSelect, Session: "prod-1"}, {Kind: ActionExit}} {
		got, ok := ParseAction(a.Token())
		if !ok || got != a {
			t.Errorf("round trip of %+v gave %+v", a, got)
		}
	}
}

func TestNameErrorsAreInvalidInput(t *testing.T) {
	if !errors.Is(ErrInvalidName, ErrInvalidInput) {
		t.Error("ErrInvalidName should match ErrInvalidInput")
	}
	if !errors.Is(ErrDuplicateName, ErrInvalidInput) {
		t.Error("ErrDuplicateName should match ErrInvalidInput")
	}
	if errors.Is(ErrDuplicateName, ErrInvalidName) {
		t.Error("duplicate and invalid names must stay distinguishable")
	}
}
