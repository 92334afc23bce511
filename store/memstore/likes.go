package memstore

import (
	"context"
	"sort"

	"campusconnect/models"
	"campusconnect/store"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func copyLike(l *models.Like) *models.Like {
	c := *l
	return &c
}

func likeStatusIn(statuses []models.LikeStatus, st models.LikeStatus) bool {
	for _, candidate := range statuses {
		if candidate == st {
			return true
		}
	}
	return false
}

func applyLikeTransition(l *models.Like, t store.LikeTransition) {
	l.Status = t.To
	if t.RevealedAt != nil {
		ts := *t.RevealedAt
		l.RevealedAt = &ts
	}
	if t.ChatStartedAt != nil {
		ts := *t.ChatStartedAt
		l.ChatStartedAt = &ts
	}
	if t.IsBlindMatch {
		l.IsBlindMatch = true
	}
	l.UpdatedAt = t.Now
}

func (s *Store) CreateLike(_ context.Context, l *models.Like) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{l.Sender, l.Receiver}
	if _, exists := s.likePairs[key]; exists {
		return store.ErrDuplicate
	}
	if l.ID.IsZero() {
		l.ID = primitive.NewObjectID()
	}
	s.likes[l.ID] = copyLike(l)
	s.likePairs[key] = l.ID
	return nil
}

func (s *Store) GetLike(_ context.Context, id primitive.ObjectID) (*models.Like, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.likes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyLike(l), nil
}

func (s *Store) FindLike(_ context.Context, sender, receiver primitive.ObjectID) (*models.Like, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.likePairs[pairKey{sender, receiver}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyLike(s.likes[id]), nil
}

func (s *Store) TransitionLike(_ context.Context, id primitive.ObjectID, from []models.LikeStatus, t store.LikeTransition) (*models.Like, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.likes[id]
	if !ok || !likeStatusIn(from, l.Status) {
		return nil, store.ErrNoMatch
	}
	next := copyLike(l)
	applyLikeTransition(next, t)
	s.likes[id] = next
	return copyLike(next), nil
}

func (s *Store) UpsertLike(_ context.Context, sender, receiver primitive.ObjectID, t store.LikeTransition, unless []models.LikeStatus) (*models.Like, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{sender, receiver}
	if id, exists := s.likePairs[key]; exists {
		l := s.likes[id]
		if likeStatusIn(unless, l.Status) {
			return nil, store.ErrDuplicate
		}
		next := copyLike(l)
		applyLikeTransition(next, t)
		s.likes[id] = next
		return copyLike(next), nil
	}

	l := &models.Like{
		ID:        primitive.NewObjectID(),
		Sender:    sender,
		Receiver:  receiver,
		CreatedAt: t.Now,
	}
	applyLikeTransition(l, t)
	s.likes[l.ID] = l
	s.likePairs[key] = l.ID
	return copyLike(l), nil
}

func (s *Store) collectLikes(match func(l *models.Like) bool) []models.Like {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Like
	for _, l := range s.likes {
		if match(l) {
			out = append(out, *copyLike(l))
		}
	}
	return out
}

func newestFirst(likes []models.Like, key func(l models.Like) int64) {
	sort.SliceStable(likes, func(i, j int) bool {
		ki, kj := key(likes[i]), key(likes[j])
		if ki == kj {
			return likes[i].ID.Hex() > likes[j].ID.Hex()
		}
		return ki > kj
	})
}

func (s *Store) ListLikesReceived(_ context.Context, receiver primitive.ObjectID, statuses []models.LikeStatus) ([]models.Like, error) {
	out := s.collectLikes(func(l *models.Like) bool {
		return l.Receiver == receiver && likeStatusIn(statuses, l.Status)
	})
	newestFirst(out, func(l models.Like) int64 { return l.CreatedAt.UnixNano() })
	return out, nil
}

func (s *Store) ListLikesInvolving(_ context.Context, user primitive.ObjectID, statuses []models.LikeStatus) ([]models.Like, error) {
	out := s.collectLikes(func(l *models.Like) bool {
		return l.Involves(user) && likeStatusIn(statuses, l.Status)
	})
	newestFirst(out, func(l models.Like) int64 { return l.UpdatedAt.UnixNano() })
	return out, nil
}

func (s *Store) ListLikesSent(_ context.Context, sender primitive.ObjectID) ([]models.Like, error) {
	out := s.collectLikes(func(l *models.Like) bool { return l.Sender == sender })
	newestFirst(out, func(l models.Like) int64 { return l.CreatedAt.UnixNano() })
	return out, nil
}
