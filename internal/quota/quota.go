// Package quota decides whether an owner may add another document.
package quota

import "medsnap-backend/internal/profiles"

// CanUpload reports whether an owner with documentCount stored documents and the
// given subscription status may upload one more. Paid states are unlimited; every
// other state is capped at freeLimit. documentCount must be the authoritative row
// count, not the cached upload counter.
func CanUpload(documentCount int, status profiles.Status, freeLimit int) bool {
	if status.IsPaid() {
		return true
	}
	return documentCount < freeLimit
}

// Gate binds CanUpload to the configured free-tier limit.
type Gate struct {
	FreeLimit int
}

// NewGate returns a Gate; non-positive limits fall back to the default of 10.
func NewGate(freeLimit int) Gate {
	if freeLimit <= 0 {
		freeLimit = 10
	}
	return Gate{FreeLimit: freeLimit}
}

func (g Gate) CanUpload(documentCount int, status profiles.Status) bool {
	return CanUpload(documentCount, status, g.FreeLimit)
}

// Remaining returns how many uploads are left, or -1 when unlimited.
func (g Gate) Remaining(documentCount int, status profiles.Status) int {
	if status.IsPaid() {
		return -1
	}
	if left := g.FreeLimit - documentCount; left > 0 {
		return left
	}
	return 0
}
