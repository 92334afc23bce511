// Package matchmaking pairs users for blind dates. A joiner is matched against
// the oldest compatible queue entry or queued to wait for one.
package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campusconnect/apperrors"
	"campusconnect/metrics"
	"campusconnect/models"
	"campusconnect/notify"
	"campusconnect/store"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	StatusIdle      = "idle"
	StatusSearching = "searching"
	StatusMatched   = "matched"
	StatusEnded     = "ended"
)

// Store is the persistence matchmaking needs.
type Store interface {
	store.UserStore
	store.SessionStore
	store.QueueStore
}

type Service struct {
	store    Store
	notifier notify.Notifier
	now      func() time.Time
}

func NewService(s Store, n notify.Notifier) *Service {
	return &Service{store: s, notifier: n, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// JoinResult reports where a join left the user.
type JoinResult struct {
	Status    string              `json:"status"`
	SessionID *primitive.ObjectID `json:"sessionId,omitempty"`
	Message   string              `json:"message"`
}

// Join matches user with a waiting partner or queues them.
//
// The joiner's own queue entry doubles as a claim on the joiner: a match
// commits only after both entries were deleted by this call, so nobody ends
// up in two live sessions.
func (s *Service) Join(ctx context.Context, userID primitive.ObjectID) (*JoinResult, error) {
	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound("user")
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if !u.DatingProfileComplete {
		return nil, apperrors.New(apperrors.KindProfileIncomplete, "Please complete your dating profile first")
	}
	if !u.CanDate() {
		return nil, apperrors.New(apperrors.KindProfileIncomplete, "Please set your gender and preferences in dating profile")
	}

	live, err := s.liveSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	if live != nil {
		return nil, apperrors.New(apperrors.KindAlreadyInSession, "You are already in an active blind date session").
			WithDetail("sessionId", live.ID.Hex())
	}

	entry := &models.QueueEntry{
		User:       userID,
		Gender:     u.DatingGender,
		LookingFor: u.DatingLookingFor,
		JoinedAt:   s.now(),
	}
	if err := s.store.CreateQueueEntry(ctx, entry); errors.Is(err, store.ErrDuplicate) {
		return &JoinResult{Status: StatusSearching, Message: "You are already in the queue"}, nil
	} else if err != nil {
		return nil, fmt.Errorf("join queue: %w", err)
	}

	candidates, err := s.store.ListQueueCandidates(ctx, userID, u.DatingLookingFor.Genders())
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}

	for _, c := range candidates {
		if !c.LookingFor.Accepts(u.DatingGender) {
			continue
		}

		mine, err := s.store.ClaimQueueEntry(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("claim own entry: %w", err)
		}
		if !mine {
			// another joiner took us while we were scanning
			return s.claimedBySomeoneElse(ctx, userID)
		}

		theirs, err := s.store.ClaimQueueEntry(ctx, c.User)
		if err != nil {
			s.requeue(ctx, entry)
			return nil, fmt.Errorf("claim queue entry: %w", err)
		}
		if !theirs {
			s.requeue(ctx, entry)
			continue
		}

		return s.startSession(ctx, userID, c.User)
	}

	logrus.WithField("userId", userID.Hex()).Debug("[Matchmaking] queued")
	return &JoinResult{Status: StatusSearching, Message: "Searching for a match..."}, nil
}

func (s *Service) requeue(ctx context.Context, entry *models.QueueEntry) {
	err := s.store.CreateQueueEntry(ctx, entry)
	if err != nil && !errors.Is(err, store.ErrDuplicate) {
		logrus.WithError(err).WithField("userId", entry.User.Hex()).Error("[Matchmaking] failed to restore queue entry")
	}
}

func (s *Service) claimedBySomeoneElse(ctx context.Context, userID primitive.ObjectID) (*JoinResult, error) {
	live, err := s.liveSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	if live == nil {
		return &JoinResult{Status: StatusSearching, Message: "Searching for a match..."}, nil
	}
	id := live.ID
	return &JoinResult{Status: StatusMatched, SessionID: &id, Message: "Match found! Start chatting anonymously."}, nil
}

func (s *Service) startSession(ctx context.Context, joiner, matched primitive.ObjectID) (*JoinResult, error) {
	sess := models.NewBlindSession(joiner, matched, s.now())
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	metrics.RecordBlindMatch()
	logrus.WithFields(logrus.Fields{
		"sessionId": sess.ID.Hex(),
		"user1":     joiner.Hex(),
		"user2":     matched.Hex(),
	}).Info("[Matchmaking] blind date started")

	payload := map[string]interface{}{
		"sessionId": sess.ID.Hex(),
		"expiresAt": sess.ExpiresAt,
	}
	for _, id := range []primitive.ObjectID{joiner, matched} {
		s.notifier.Publish(id, "blind_matched", payload)
		s.notifier.Notify(ctx, id, notify.Message{
			Title: "Blind Date Found! 🎭",
			Body:  "Someone is waiting to chat with you anonymously.",
			Data:  map[string]string{"type": "blind_matched", "sessionId": sess.ID.Hex()},
			Type:  models.NotifyBlind,
		})
	}

	id := sess.ID
	return &JoinResult{Status: StatusMatched, SessionID: &id, Message: "Match found! Start chatting anonymously."}, nil
}

// Leave removes the user's queue entry, if any.
func (s *Service) Leave(ctx context.Context, userID primitive.ObjectID) error {
	if err := s.store.DeleteQueueEntry(ctx, userID); err != nil {
		return fmt.Errorf("leave queue: %w", err)
	}
	return nil
}

// liveSession returns the user's active or extended session, ending it first
// when its time is up. It returns nil when there is none.
func (s *Service) liveSession(ctx context.Context, userID primitive.ObjectID) (*models.BlindSession, error) {
	sess, err := s.store.FindLiveSession(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if !sess.Expired(s.now()) {
		return sess, nil
	}
	if _, err := s.store.EndSession(ctx, sess.ID, []models.SessionStatus{models.SessionActive, models.SessionExtended}, models.EndExpired, s.now()); err == nil {
		metrics.RecordSessionTransition("expired", 1)
	} else if !errors.Is(err, store.ErrNoMatch) {
		return nil, fmt.Errorf("expire session: %w", err)
	}
	return nil, nil
}

// StatusResult is the user's blind-date state.
type StatusResult struct {
	Status    string                `json:"status"`
	SessionID *primitive.ObjectID   `json:"sessionId,omitempty"`
	Messages  []models.BlindMessage `json:"messages,omitempty"`
	ExpiresAt *time.Time            `json:"expiresAt,omitempty"`
	Message   string                `json:"message,omitempty"`
}

func (s *Service) Status(ctx context.Context, userID primitive.ObjectID) (*StatusResult, error) {
	sess, err := s.store.FindLiveSession(ctx, userID)
	switch {
	case err == nil:
		id := sess.ID
		if sess.Expired(s.now()) {
			if _, err := s.liveSession(ctx, userID); err != nil {
				return nil, err
			}
			return &StatusResult{Status: StatusEnded, SessionID: &id, Message: "Time's up!"}, nil
		}
		expires := sess.ExpiresAt
		return &StatusResult{
			Status:    string(sess.Status),
			SessionID: &id,
			Messages:  sess.Messages,
			ExpiresAt: &expires,
		}, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("find session: %w", err)
	}

	_, err = s.store.GetQueueEntry(ctx, userID)
	switch {
	case err == nil:
		return &StatusResult{Status: StatusSearching, Message: "Looking for a match..."}, nil
	case errors.Is(err, store.ErrNotFound):
		return &StatusResult{Status: StatusIdle, Message: "Not in a session or queue"}, nil
	}
	return nil, fmt.Errorf("get queue entry: %w", err)
}
