package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs(" 12, 34 ,,56")
	if err != nil {
		t.Fatalf("parseIDs: %v", err)
	}
	if diff := cmp.Diff([]int64{12, 34, 56}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	if got := joinIDs(ids); got != "12,34,56" {
		t.Errorf("joinIDs = %q", got)
	}
}

func TestParseIDsEmpty(t *testing.T) {
	ids, err := parseIDs("")
	if err != nil {
		t.Fatalf("parseIDs: %v", err)
	}
	if ids != nil {
		t.Errorf("ids = %v, want nil", ids)
	}
}

func TestParseIDsInvalid(t *testing.T) {
	if _, err := parseIDs("12,abc"); err == nil {
		t.Fatal("expected error for non-numeric ID")
	}
}
