// Package profile edits the dating profile and derives whether it is complete
// enough for matching.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"campusconnect/apperrors"
	"campusconnect/models"
	"campusconnect/store"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	MaxInterests  = 10
	MaxIntentions = 5
	MaxPhotos     = 6
	MaxTagLength  = 30
	MaxBioLength  = 500
)

// Bonus pays the one-off reward for a completed profile.
type Bonus interface {
	ClaimProfileBonus(ctx context.Context, userID primitive.ObjectID) (bool, error)
}

// Invalidator drops views derived from the profile.
type Invalidator interface {
	Invalidate(ctx context.Context, user primitive.ObjectID)
}

type Service struct {
	store       store.UserStore
	bonus       Bonus
	invalidator Invalidator
}

func NewService(s store.UserStore, bonus Bonus, inv Invalidator) *Service {
	return &Service{store: s, bonus: bonus, invalidator: inv}
}

// UpdateResult is the saved profile and whether the completion bonus was paid.
type UpdateResult struct {
	Profile       *models.Profile `json:"profile"`
	Complete      bool            `json:"datingProfileComplete"`
	RewardGranted bool            `json:"rewardGranted"`
}

// Update replaces the dating profile of userID with p.
func (s *Service) Update(ctx context.Context, userID primitive.ObjectID, p models.DatingProfileUpdate) (*UpdateResult, error) {
	p, err := clean(p)
	if err != nil {
		return nil, err
	}

	complete := p.Complete()
	u, err := s.store.UpdateDatingProfile(ctx, userID, p, complete)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound("user")
	}
	if err != nil {
		return nil, fmt.Errorf("update dating profile: %w", err)
	}
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, userID)
	}

	res := &UpdateResult{Profile: models.ProfileOf(u), Complete: complete}
	if complete && s.bonus != nil {
		granted, err := s.bonus.ClaimProfileBonus(ctx, userID)
		if err != nil {
			logrus.WithError(err).WithField("userId", userID.Hex()).Warn("[Profile] completion bonus failed")
		}
		res.RewardGranted = granted
	}
	return res, nil
}

// Get returns the caller's own dating profile.
func (s *Service) Get(ctx context.Context, userID primitive.ObjectID) (*UpdateResult, error) {
	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound("user")
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &UpdateResult{
		Profile:       models.ProfileOf(u),
		Complete:      u.DatingProfileComplete,
		RewardGranted: u.ProfileRewardClaimed,
	}, nil
}

func clean(p models.DatingProfileUpdate) (models.DatingProfileUpdate, error) {
	if p.Gender != "" && !p.Gender.Valid() {
		return p, apperrors.Validation("Invalid gender %q", p.Gender)
	}
	if p.LookingFor != "" && !p.LookingFor.Valid() {
		return p, apperrors.Validation("Invalid preference %q", p.LookingFor)
	}

	var err error
	if p.Interests, err = tags("interests", p.Interests, MaxInterests); err != nil {
		return p, err
	}
	if p.Intentions, err = tags("intentions", p.Intentions, MaxIntentions); err != nil {
		return p, err
	}

	p.Bio = strings.TrimSpace(p.Bio)
	if utf8.RuneCountInString(p.Bio) > MaxBioLength {
		return p, apperrors.Validation("Bio must be at most %d characters", MaxBioLength)
	}

	photos := make([]string, 0, len(p.Photos))
	for _, ph := range p.Photos {
		if ph = strings.TrimSpace(ph); ph != "" {
			photos = append(photos, ph)
		}
	}
	if len(photos) > MaxPhotos {
		return p, apperrors.Validation("At most %d photos are allowed", MaxPhotos)
	}
	p.Photos = photos
	return p, nil
}

// tags trims and de-duplicates case-insensitively, keeping first spellings.
func tags(field string, in []string, limit int) ([]string, error) {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if utf8.RuneCountInString(t) > MaxTagLength {
			return nil, apperrors.Validation("Each of %s must be at most %d characters", field, MaxTagLength)
		}
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	if len(out) > limit {
		return nil, apperrors.Validation("At most %d %s are allowed", limit, field)
	}
	return out, nil
}
