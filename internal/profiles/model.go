package profiles

import (
	"strings"
	"time"
)

// Status is the local subscription state of a profile.
type Status string

const (
	StatusInactive   Status = "inactive"
	StatusActive     Status = "active"
	StatusCancelling Status = "cancelling"
	StatusTrialing   Status = "trialing"
	StatusCancelled  Status = "cancelled"
)

// IsPaid reports whether the status grants unlimited uploads.
func (s Status) IsPaid() bool {
	return s == StatusActive || s == StatusCancelling
}

// ParseStatus maps stored text to a Status; unknown or empty values are inactive.
func ParseStatus(raw string) Status {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusActive, StatusCancelling, StatusTrialing, StatusCancelled:
		return s
	default:
		return StatusInactive
	}
}

// Plan is the subscription tier.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// ParsePlan maps stored text to a Plan, defaulting to free.
func ParsePlan(raw string) Plan {
	if Plan(strings.ToLower(strings.TrimSpace(raw))) == PlanPro {
		return PlanPro
	}
	return PlanFree
}

// Profile is the per-owner billing and usage record.
type Profile struct {
	UserID      string
	Status      Status
	Plan        Plan
	UploadCount int
	CustomerRef string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func newProfile(userID string, now time.Time) Profile {
	return Profile{
		UserID:    userID,
		Status:    StatusInactive,
		Plan:      PlanFree,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
