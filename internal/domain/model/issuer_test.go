package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalTicker(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       string
		expected string
	}{
		{"aapl", "AAPL"},
		{" msft ", "MSFT"},
		{"BRK.B", "BRK.B"},
		{"rds-a", "RDS-A"},
		{"", ""},
		{"   ", ""},
		{".ABC", ""},
		{"WAYTOOLONGTICKER", ""},
		{"A B", ""},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.expected, CanonicalTicker(tc.in))
		})
	}
}

func TestCanonicalCIK(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       string
		expected string
	}{
		{"320193", "0000320193"},
		{"0000320193", "0000320193"},
		{" 789019 ", "0000789019"},
		{"", ""},
		{"12a4", ""},
		{"-12", ""},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.expected, CanonicalCIK(tc.in))
		})
	}
}

func TestCanonicalText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "acme corp", CanonicalText("  Acme\t\tCorp  "))
	assert.Equal(t, "acme corp", CanonicalText("ACME CORP"))
	assert.Equal(t, "", CanonicalText("   "))
}

func TestKindForSource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		source   string
		expected EventKind
	}{
		{"sec", EventKindSEC},
		{"SEC-EDGAR", EventKindSEC},
		{"edgar", EventKindSEC},
		{"pr", EventKindPR},
		{"newsroomrss", EventKindPR},
		{"press", EventKindPR},
		{"blog", EventKindOther},
		{"", EventKindOther},
	}

	for _, tc := range tests {
		t.Run(tc.source, func(t *testing.T) {
			assert.Equal(t, tc.expected, KindForSource(tc.source))
		})
	}
}

func TestSourceFamily(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "sec", EventKindSEC.SourceFamily())
	assert.Equal(t, "pr", EventKindPR.SourceFamily())
	assert.Equal(t, "", EventKindOther.SourceFamily())
	assert.Equal(t, "", EventKind("").SourceFamily())
}
