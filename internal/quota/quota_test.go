package quota

import (
	"testing"

	"medsnap-backend/internal/profiles"
)

func TestCanUpload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		count  int
		status profiles.Status
		want   bool
	}{
		{name: "empty free", count: 0, status: profiles.StatusInactive, want: true},
		{name: "one below limit", count: 9, status: profiles.StatusInactive, want: true},
		{name: "at limit", count: 10, status: profiles.StatusInactive, want: false},
		{name: "over limit after downgrade", count: 25, status: profiles.StatusInactive, want: false},
		{name: "unknown status is free", count: 10, status: profiles.Status(""), want: false},
		{name: "cancelled is free", count: 10, status: profiles.StatusCancelled, want: false},
		{name: "trialing is free", count: 10, status: profiles.StatusTrialing, want: false},
		{name: "active unlimited", count: 10_000, status: profiles.StatusActive, want: true},
		{name: "cancelling unlimited", count: 10_000, status: profiles.StatusCancelling, want: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := CanUpload(tt.count, tt.status, 10); got != tt.want {
				t.Fatalf("CanUpload(%d, %q, 10) = %v, want %v", tt.count, tt.status, got, tt.want)
			}
		})
	}
}

func TestGateRemaining(t *testing.T) {
	t.Parallel()

	g := NewGate(0)
	if g.FreeLimit != 10 {
		t.Fatalf("expected default limit 10, got %d", g.FreeLimit)
	}
	if got := g.Remaining(3, profiles.StatusInactive); got != 7 {
		t.Fatalf("expected 7 remaining, got %d", got)
	}
	if got := g.Remaining(12, profiles.StatusInactive); got != 0 {
		t.Fatalf("expected 0 remaining, got %d", got)
	}
	if got := g.Remaining(12, profiles.StatusActive); got != -1 {
		t.Fatalf("expected unlimited, got %d", got)
	}
}
