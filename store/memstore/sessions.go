package memstore

import (
	"context"
	"sort"
	"time"

	"campusconnect/models"
	"campusconnect/store"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func copySession(s *models.BlindSession) *models.BlindSession {
	c := *s
	c.Messages = append([]models.BlindMessage(nil), s.Messages...)
	return &c
}

func sessionStatusIn(statuses []models.SessionStatus, st models.SessionStatus) bool {
	for _, candidate := range statuses {
		if candidate == st {
			return true
		}
	}
	return false
}

func choiceIn(choices []models.Choice, c models.Choice) bool {
	for _, candidate := range choices {
		if candidate == c {
			return true
		}
	}
	return false
}

func (s *Store) updateSession(id primitive.ObjectID, fn func(sess *models.BlindSession) bool) (*models.BlindSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNoMatch
	}
	next := copySession(sess)
	if !fn(next) {
		return nil, store.ErrNoMatch
	}
	s.sessions[id] = next
	return copySession(next), nil
}

func (s *Store) CreateSession(_ context.Context, sess *models.BlindSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID.IsZero() {
		sess.ID = primitive.NewObjectID()
	}
	s.sessions[sess.ID] = copySession(sess)
	return nil
}

func (s *Store) GetSession(_ context.Context, id primitive.ObjectID) (*models.BlindSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copySession(sess), nil
}

func (s *Store) FindLiveSession(_ context.Context, user primitive.ObjectID) (*models.BlindSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *models.BlindSession
	for _, sess := range s.sessions {
		if !sess.Status.Live() || !sess.IsParty(user) {
			continue
		}
		if found == nil || sess.CreatedAt.After(found.CreatedAt) {
			found = sess
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return copySession(found), nil
}

func (s *Store) AppendSessionMessage(_ context.Context, id primitive.ObjectID, msg models.BlindMessage) (*models.BlindSession, error) {
	return s.updateSession(id, func(sess *models.BlindSession) bool {
		if !sess.Status.Live() || sess.Expired(msg.CreatedAt) {
			return false
		}
		sess.Messages = append(sess.Messages, msg)
		sess.LastActivity = msg.CreatedAt
		return true
	})
}

func (s *Store) SetSessionChoice(_ context.Context, id primitive.ObjectID, u store.ChoiceUpdate) (*models.BlindSession, error) {
	return s.updateSession(id, func(sess *models.BlindSession) bool {
		if !store.ChoiceWindowOpen(sess, u.Now, u.Grace) {
			return false
		}
		reveals := u.Choice == models.ChoiceReveal || u.Choice == models.ChoiceChat
		switch u.Side {
		case 1:
			if !choiceIn(u.Prior, sess.User1Choice) {
				return false
			}
			sess.User1Choice = u.Choice
			if reveals {
				sess.User1Revealed = true
			}
		case 2:
			if !choiceIn(u.Prior, sess.User2Choice) {
				return false
			}
			sess.User2Choice = u.Choice
			if reveals {
				sess.User2Revealed = true
			}
		default:
			return false
		}
		return true
	})
}

func (s *Store) ConnectSession(_ context.Context, id primitive.ObjectID, now time.Time) (*models.BlindSession, error) {
	return s.updateSession(id, func(sess *models.BlindSession) bool {
		if sess.ConnectedAt != nil || !sess.BothChoseChat() {
			return false
		}
		if sess.Status == models.SessionEnded && sess.EndReason != models.EndExpired {
			return false
		}
		stamp := now
		sess.ConnectedAt = &stamp
		if sess.Status == models.SessionActive {
			sess.Status = models.SessionExtended
		}
		return true
	})
}

func (s *Store) EndSession(_ context.Context, id primitive.ObjectID, from []models.SessionStatus, reason models.EndReason, now time.Time) (*models.BlindSession, error) {
	return s.updateSession(id, func(sess *models.BlindSession) bool {
		if !sessionStatusIn(from, sess.Status) {
			return false
		}
		sess.Status = models.SessionEnded
		sess.EndReason = reason
		return true
	})
}

func (s *Store) EndExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, sess := range s.sessions {
		if sess.Status.Live() && sess.ExpiresAt.Before(now) {
			next := copySession(sess)
			next.Status = models.SessionEnded
			next.EndReason = models.EndExpired
			s.sessions[id] = next
			n++
		}
	}
	return n, nil
}

func (s *Store) ListStaleSessions(_ context.Context, cutoff time.Time) ([]models.BlindSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.BlindSession
	for _, sess := range s.sessions {
		if sess.Status.Live() && sess.LastActivity.Before(cutoff) {
			out = append(out, *copySession(sess))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.Before(out[j].LastActivity) })
	return out, nil
}

func (s *Store) EndStaleSession(_ context.Context, id primitive.ObjectID, cutoff, now time.Time) (*models.BlindSession, error) {
	return s.updateSession(id, func(sess *models.BlindSession) bool {
		if !sess.Status.Live() || !sess.LastActivity.Before(cutoff) {
			return false
		}
		sess.Status = models.SessionEnded
		sess.EndReason = models.EndAbandoned
		return true
	})
}

// QueueStore implementation ---------------------------------------------------

func (s *Store) CreateQueueEntry(_ context.Context, e *models.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.queue[e.User]; exists {
		return store.ErrDuplicate
	}
	if e.ID.IsZero() {
		e.ID = primitive.NewObjectID()
	}
	c := *e
	s.queue[e.User] = &c
	return nil
}

func (s *Store) GetQueueEntry(_ context.Context, user primitive.ObjectID) (*models.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.queue[user]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *e
	return &c, nil
}

func (s *Store) ListQueueCandidates(_ context.Context, exclude primitive.ObjectID, genders []models.Gender) ([]models.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.QueueEntry
	for user, e := range s.queue {
		if user == exclude || !containsGender(genders, e.Gender) {
			continue
		}
		out = append(out, *e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID.Hex() < out[j].ID.Hex()
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

func (s *Store) ClaimQueueEntry(_ context.Context, user primitive.ObjectID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queue[user]; !ok {
		return false, nil
	}
	delete(s.queue, user)
	return true, nil
}

func (s *Store) DeleteQueueEntry(_ context.Context, user primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.queue, user)
	return nil
}

func (s *Store) DeleteStaleQueueEntries(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for user, e := range s.queue {
		if e.JoinedAt.Before(cutoff) {
			delete(s.queue, user)
			n++
		}
	}
	return n, nil
}
