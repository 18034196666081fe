package meadow

import (
	"errors"
	"strings"
	"testing"
)

func TestSubscriptionInScope(t *testing.T) {
	tests := []struct {
		name         string
		subscription Subscription
		channelID    string
		parentID     string
		want         bool
	}{
		{
			name:         "unscoped matches any channel",
			subscription: Subscription{Owner: "u1", Pattern: "release"},
			channelID:    "c9",
			want:         true,
		},
		{
			name:         "scope equals channel",
			subscription: Subscription{Owner: "u1", Pattern: "release", Scope: "c1"},
			channelID:    "c1",
			want:         true,
		},
		{
			name:         "scope equals parent category",
			subscription: Subscription{Owner: "u1", Pattern: "release", Scope: "cat-1"},
			channelID:    "c1",
			parentID:     "cat-1",
			want:         true,
		},
		{
			name:         "scope mismatch",
			subscription: Subscription{Owner: "u1", Pattern: "release", Scope: "c1"},
			channelID:    "c2",
			want:         false,
		},
		{
			name:         "empty parent never matches scoped subscription",
			subscription: Subscription{Owner: "u1", Pattern: "release", Scope: ""},
			channelID:    "c2",
			want:         true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got := testCase.subscription.InScope(testCase.channelID, testCase.parentID)
			if got != testCase.want {
				t.Fatalf("InScope(%q, %q) = %v, want %v", testCase.channelID, testCase.parentID, got, testCase.want)
			}
		})
	}
}

func TestValidatePattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		wantErr bool
	}{
		{name: "minimum length", pattern: "abc"},
		{name: "maximum length", pattern: strings.Repeat("x", 30)},
		{name: "multibyte runes counted as characters", pattern: "ありがとう"},
		{name: "too short", pattern: "ab", wantErr: true},
		{name: "too long", pattern: strings.Repeat("x", 31), wantErr: true},
		{name: "empty", pattern: "", wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := ValidatePattern(testCase.pattern)
			if testCase.wantErr {
				if !errors.Is(err, ErrInvalidPattern) {
					t.Fatalf("error = %v, want ErrInvalidPattern", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
