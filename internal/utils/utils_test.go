package utils

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

func restError(status int) error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: status}}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{restError(http.StatusNotFound), ClassResourceMissing},
		{fmt.Errorf("fetch message: %w", restError(http.StatusForbidden)), ClassPermissionDenied},
		{restError(http.StatusInternalServerError), ClassOther},
		{fmt.Errorf("wrapped: %w", ErrResourceMissing), ClassResourceMissing},
		{discordgo.ErrStateNotFound, ClassResourceMissing},
		{errors.New("boom"), ClassOther},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"10s":   10 * time.Second,
		"5m":    5 * time.Minute,
		"2h":    2 * time.Hour,
		"3d":    72 * time.Hour,
		"1d12h": 36 * time.Hour,
		" 1W ":  7 * 24 * time.Hour,
	}
	for input, want := range cases {
		got, err := ParseDuration(input)
		if err != nil {
			t.Fatalf("ParseDuration(%q): %v", input, err)
		}
		if got != want {
			t.Fatalf("ParseDuration(%q) = %s, want %s", input, got, want)
		}
	}
	for _, input := range []string{"", "abc", "0s"} {
		if _, err := ParseDuration(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestCreatedAt(t *testing.T) {
	// 175928847299117063 is the example id from the Discord documentation.
	created, ok := CreatedAt("175928847299117063")
	if !ok {
		t.Fatalf("expected valid id")
	}
	want := time.Date(2016, 4, 30, 11, 18, 25, 796000000, time.UTC)
	if !created.Equal(want) {
		t.Fatalf("expected %s, got %s", want, created)
	}
	if ValidID("not-a-number") || ValidID("0") {
		t.Fatalf("expected invalid ids to be rejected")
	}
}
