package profiles

import (
	"context"
	"fmt"
	"strings"
)

// Service exposes profile reads and counter maintenance.
type Service struct {
	Repo Repo
}

// NewService constructs a Service.
func NewService(repo Repo) *Service {
	return &Service{Repo: repo}
}

// Profile returns the owner's profile, creating the default free row on first access.
func (s *Service) Profile(ctx context.Context, userID string) (Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return Profile{}, ErrInvalidInput
	}
	p, err := s.Repo.Ensure(ctx, userID)
	if err != nil {
		return Profile{}, fmt.Errorf("ensure profile %s: %w", userID, err)
	}
	return p, nil
}

// Status returns the current subscription status; a missing profile reads as inactive.
func (s *Service) Status(ctx context.Context, userID string) (Status, error) {
	p, err := s.Profile(ctx, userID)
	if err != nil {
		return StatusInactive, err
	}
	return p.Status, nil
}

func (s *Service) IncrementUploads(ctx context.Context, userID string) error {
	return s.Repo.AdjustUploadCount(ctx, userID, 1)
}

func (s *Service) DecrementUploads(ctx context.Context, userID string) error {
	return s.Repo.AdjustUploadCount(ctx, userID, -1)
}
