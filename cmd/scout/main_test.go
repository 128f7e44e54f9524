package main

import (
	"testing"

	"github.com/richinex/scout/storage"
)

func TestParseLineRange(t *testing.T) {
	got, err := parseLineRange("10-40")
	if err != nil {
		t.Fatalf("parseLineRange failed: %v", err)
	}
	if got != (storage.LineRange{Start: 10, End: 40}) {
		t.Errorf("got %+v", got)
	}

	for _, bad := range []string{"10", "a-3", "5-2", "0-4"} {
		if _, err := parseLineRange(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}
