// Package recommend ranks discovery candidates for a viewer by how much their
// dating profiles overlap.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"campusconnect/apperrors"
	"campusconnect/models"
	"campusconnect/store"
	"campusconnect/ttlcache"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	DefaultLimit = 20
	DefaultTTL   = 5 * time.Minute

	interestWeight   = 0.5
	intentionWeight  = 0.3
	preferenceWeight = 0.2
)

// Excluder lists the users a viewer must not be shown again.
type Excluder interface {
	ExcludedCounterparts(ctx context.Context, user primitive.ObjectID) (map[primitive.ObjectID]struct{}, error)
}

// Recommendation is one ranked candidate.
type Recommendation struct {
	*models.Profile
	MatchScore float64   `json:"matchScore"`
	LastActive time.Time `json:"lastActive"`
}

type Service struct {
	store    store.UserStore
	excluder Excluder
	cache    ttlcache.Cache
	ttl      time.Duration
	limit    int
}

// NewService builds a scorer. cache may be nil, in which case every call
// recomputes the ranking.
func NewService(s store.UserStore, ex Excluder, cache ttlcache.Cache) *Service {
	return &Service{store: s, excluder: ex, cache: cache, ttl: DefaultTTL, limit: DefaultLimit}
}

func (s *Service) WithTTL(ttl time.Duration) *Service {
	s.ttl = ttl
	return s
}

func (s *Service) WithLimit(n int) *Service {
	if n > 0 {
		s.limit = n
	}
	return s
}

func cacheKey(viewer primitive.ObjectID) string {
	return "recs:" + viewer.Hex()
}

// Recommend returns up to limit candidates, best first. A limit outside
// 1..configured maximum falls back to the maximum.
func (s *Service) Recommend(ctx context.Context, viewerID primitive.ObjectID, limit int) ([]Recommendation, error) {
	if limit <= 0 || limit > s.limit {
		limit = s.limit
	}

	var ranked []Recommendation
	if s.cache != nil {
		err := ttlcache.GetJSON(ctx, s.cache, cacheKey(viewerID), &ranked)
		switch {
		case err == nil:
			return head(ranked, limit), nil
		case !errors.Is(err, ttlcache.ErrMiss):
			logrus.WithError(err).WithField("userId", viewerID.Hex()).Warn("[Recommend] cache read failed")
		}
	}

	ranked, err := s.rank(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := ttlcache.SetJSON(ctx, s.cache, cacheKey(viewerID), ranked, s.ttl); err != nil {
			logrus.WithError(err).WithField("userId", viewerID.Hex()).Warn("[Recommend] cache write failed")
		}
	}
	return head(ranked, limit), nil
}

func head(recs []Recommendation, n int) []Recommendation {
	if recs == nil {
		return []Recommendation{}
	}
	if len(recs) > n {
		return recs[:n]
	}
	return recs
}

func (s *Service) rank(ctx context.Context, viewerID primitive.ObjectID) ([]Recommendation, error) {
	viewer, err := s.store.GetUser(ctx, viewerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound("user")
	}
	if err != nil {
		return nil, fmt.Errorf("get viewer: %w", err)
	}
	if !viewer.CanDate() {
		return nil, apperrors.New(apperrors.KindProfileIncomplete, "Please complete your dating profile first")
	}

	excluded, err := s.excluder.ExcludedCounterparts(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("list exclusions: %w", err)
	}

	candidates, err := s.store.ListDatingCandidates(ctx, viewerID, viewer.DatingLookingFor.Genders())
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	recs := make([]Recommendation, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		if _, skip := excluded[c.ID]; skip {
			continue
		}
		if !viewer.DatingLookingFor.Accepts(c.DatingGender) {
			continue
		}
		recs = append(recs, Recommendation{
			Profile:    models.ProfileOf(c),
			MatchScore: Score(viewer, c),
			LastActive: c.LastActive,
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].MatchScore != recs[j].MatchScore {
			return recs[i].MatchScore > recs[j].MatchScore
		}
		if !recs[i].LastActive.Equal(recs[j].LastActive) {
			return recs[i].LastActive.After(recs[j].LastActive)
		}
		return recs[i].ID.Hex() < recs[j].ID.Hex()
	})
	if len(recs) > s.limit {
		recs = recs[:s.limit]
	}

	logrus.WithFields(logrus.Fields{
		"userId":     viewerID.Hex(),
		"candidates": len(candidates),
		"returned":   len(recs),
	}).Debug("[Recommend] ranked candidates")
	return recs, nil
}

// Invalidate drops the cached ranking of user.
func (s *Service) Invalidate(ctx context.Context, user primitive.ObjectID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cacheKey(user)); err != nil {
		logrus.WithError(err).WithField("userId", user.Hex()).Warn("[Recommend] cache invalidation failed")
	}
}

// Score weighs interest overlap, intention overlap and how mutual the gender
// preferences are. The result is in [0, 1].
func Score(viewer, candidate *models.User) float64 {
	return interestWeight*jaccard(viewer.DatingInterests, candidate.DatingInterests) +
		intentionWeight*jaccard(viewer.DatingIntentions, candidate.DatingIntentions) +
		preferenceWeight*preference(viewer, candidate)
}

func preference(a, b *models.User) float64 {
	ab := a.DatingLookingFor.Accepts(b.DatingGender)
	ba := b.DatingLookingFor.Accepts(a.DatingGender)
	switch {
	case ab && ba:
		return 1
	case ab || ba:
		return 0.5
	}
	return 0
}

// jaccard compares tags case-insensitively. Two empty sets score 0.
func jaccard(a, b []string) float64 {
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[strings.ToLower(strings.TrimSpace(t))] = true
	}
	union := len(set)
	inter := 0
	seen := make(map[string]bool, len(b))
	for _, t := range b {
		t = strings.ToLower(strings.TrimSpace(t))
		if seen[t] {
			continue
		}
		seen[t] = true
		if set[t] {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
