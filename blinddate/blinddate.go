// Package blinddate runs a blind-date session after matchmaking: anonymous
// messages until the timer runs out, then each side's paid choice. Two chat
// choices turn the session into a permanent chat.
package blinddate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"campusconnect/activity"
	"campusconnect/apperrors"
	"campusconnect/ledger"
	"campusconnect/metrics"
	"campusconnect/models"
	"campusconnect/notify"
	"campusconnect/store"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	RevealCost          = 70
	ChatCost            = 200
	ChatAfterRevealCost = 100

	MaxMessageLength   = 1000
	DefaultChoiceGrace = 5 * time.Minute
)

var liveStatuses = []models.SessionStatus{models.SessionActive, models.SessionExtended}

// Store is the persistence the session service needs.
type Store interface {
	store.UserStore
	store.LikeStore
	store.SessionStore
	store.QueueStore
}

type Service struct {
	store    Store
	ledger   *ledger.Service
	notifier notify.Notifier
	activity activity.Logger
	grace    time.Duration
	now      func() time.Time
}

func NewService(s Store, l *ledger.Service, n notify.Notifier, logger activity.Logger) *Service {
	return &Service{
		store:    s,
		ledger:   l,
		notifier: n,
		activity: logger,
		grace:    DefaultChoiceGrace,
		now:      time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithChoiceGrace sets how long after expiry choices are still accepted.
func (s *Service) WithChoiceGrace(d time.Duration) *Service {
	s.grace = d
	return s
}

// partySession loads a session user takes part in.
func (s *Service) partySession(ctx context.Context, id, user primitive.ObjectID) (*models.BlindSession, error) {
	sess, err := s.store.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound("session")
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if !sess.IsParty(user) {
		return nil, apperrors.NotFound("session")
	}
	return sess, nil
}

// expire ends a live session whose timer ran out and returns its current state.
func (s *Service) expire(ctx context.Context, sess *models.BlindSession) (*models.BlindSession, error) {
	if !sess.Status.Live() || !sess.Expired(s.now()) {
		return sess, nil
	}
	ended, err := s.store.EndSession(ctx, sess.ID, liveStatuses, models.EndExpired, s.now())
	if err == nil {
		metrics.RecordSessionTransition("expired", 1)
		return ended, nil
	}
	if !errors.Is(err, store.ErrNoMatch) {
		return nil, fmt.Errorf("expire session: %w", err)
	}
	current, err := s.store.GetSession(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return current, nil
}

// SendMessage appends an anonymous message to a running session.
func (s *Service) SendMessage(ctx context.Context, sessionID, sender primitive.ObjectID, text string) ([]models.BlindMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.Validation("Message text is required")
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return nil, apperrors.Validation("Message must be at most %d characters", MaxMessageLength)
	}

	sess, err := s.partySession(ctx, sessionID, sender)
	if err != nil {
		return nil, err
	}
	if !sess.Status.Live() {
		return nil, apperrors.NotFound("active session")
	}
	if sess.Expired(s.now()) {
		if _, err := s.expire(ctx, sess); err != nil {
			return nil, err
		}
		return nil, apperrors.New(apperrors.KindSessionExpired, "Session has ended. Time's up!")
	}

	msg := models.BlindMessage{Sender: sender, Text: text, CreatedAt: s.now()}
	updated, err := s.store.AppendSessionMessage(ctx, sessionID, msg)
	if errors.Is(err, store.ErrNoMatch) {
		current, getErr := s.store.GetSession(ctx, sessionID)
		if getErr == nil && current.Status.Live() && current.Expired(msg.CreatedAt) {
			return nil, apperrors.New(apperrors.KindSessionExpired, "Session has ended. Time's up!")
		}
		return nil, apperrors.NotFound("active session")
	}
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	s.notifier.Publish(updated.Partner(sender), "blind_message", map[string]interface{}{
		"sessionId": sessionID.Hex(),
		"text":      msg.Text,
		"createdAt": msg.CreatedAt,
	})
	return updated.Messages, nil
}

// SessionView is a participant's view of a session.
type SessionView struct {
	SessionID     primitive.ObjectID    `json:"sessionId"`
	Status        models.SessionStatus  `json:"status"`
	EndReason     models.EndReason      `json:"endReason,omitempty"`
	Messages      []models.BlindMessage `json:"messages"`
	ExpiresAt     time.Time             `json:"expiresAt"`
	MyChoice      models.Choice         `json:"myChoice"`
	PartnerChoice models.Choice         `json:"partnerChoice"`
	Connected     bool                  `json:"connected"`
}

func viewOf(sess *models.BlindSession, user primitive.ObjectID) *SessionView {
	return &SessionView{
		SessionID:     sess.ID,
		Status:        sess.Status,
		EndReason:     sess.EndReason,
		Messages:      sess.Messages,
		ExpiresAt:     sess.ExpiresAt,
		MyChoice:      sess.ChoiceOf(user),
		PartnerChoice: sess.ChoiceOf(sess.Partner(user)),
		Connected:     sess.ConnectedAt != nil,
	}
}

// Messages returns the session transcript, ending the session first when its
// time is up.
func (s *Service) Messages(ctx context.Context, sessionID, user primitive.ObjectID) (*SessionView, error) {
	sess, err := s.partySession(ctx, sessionID, user)
	if err != nil {
		return nil, err
	}
	sess, err = s.expire(ctx, sess)
	if err != nil {
		return nil, err
	}
	return viewOf(sess, user), nil
}

// Outcome reports the result of a choice or a connect attempt.
type Outcome struct {
	Choice         models.Choice        `json:"choice,omitempty"`
	Status         models.SessionStatus `json:"status"`
	Coins          int                  `json:"coins"`
	Charged        int                  `json:"charged"`
	SlotsFull      bool                 `json:"slotsFull"`
	Connected      bool                 `json:"connected"`
	LikeID         *primitive.ObjectID  `json:"likeId,omitempty"`
	PartnerProfile *models.Profile      `json:"partnerProfile"`
	User1Choice    models.Choice        `json:"user1Choice"`
	User2Choice    models.Choice        `json:"user2Choice"`
	Message        string               `json:"message"`
}

func choiceCost(sess *models.BlindSession, user primitive.ObjectID, c models.Choice) int {
	switch c {
	case models.ChoiceReveal:
		if sess.ChoiceOf(user) == models.ChoiceReveal {
			return 0
		}
		return RevealCost
	case models.ChoiceChat:
		if sess.RevealedBy(user) {
			return ChatAfterRevealCost
		}
		return ChatCost
	}
	return 0
}

// choiceAllowed reports whether a participant holding current may still
// choose. Chat and decline are final; reveal may be repeated free of charge.
func choiceAllowed(current models.Choice) bool {
	return !current.Final()
}

func (s *Service) windowError(sess *models.BlindSession) error {
	if sess.Status == models.SessionEnded && sess.EndReason == models.EndExpired {
		return apperrors.New(apperrors.KindSessionExpired, "The time to decide on this blind date has passed")
	}
	return apperrors.New(apperrors.KindNotActive, "This blind date session has ended")
}

// RecordChoice stores user's post-timer choice and applies its consequences.
// Coins are charged before the choice is written and refunded if the write
// loses a race.
func (s *Service) RecordChoice(ctx context.Context, sessionID, user primitive.ObjectID, choice models.Choice) (*Outcome, error) {
	switch choice {
	case models.ChoiceReveal, models.ChoiceChat, models.ChoiceDecline:
	default:
		return nil, apperrors.Validation("Invalid choice")
	}

	sess, err := s.partySession(ctx, sessionID, user)
	if err != nil {
		return nil, err
	}
	if sess, err = s.expire(ctx, sess); err != nil {
		return nil, err
	}

	prior := sess.ChoiceOf(user)
	if !choiceAllowed(prior) {
		return nil, apperrors.New(apperrors.KindChoiceAlreadyRecorded, "Choice already recorded")
	}
	now := s.now()
	if !store.ChoiceWindowOpen(sess, now, s.grace) {
		return nil, s.windowError(sess)
	}

	cost := choiceCost(sess, user, choice)
	reason := fmt.Sprintf("Blind Date Choice: %s", choice)
	var charge *ledger.DebitResult
	if cost > 0 {
		if charge, err = s.ledger.Debit(ctx, user, cost, reason); err != nil {
			return nil, err
		}
	}

	updated, err := s.store.SetSessionChoice(ctx, sessionID, store.ChoiceUpdate{
		Side:   sess.Side(user),
		Choice: choice,
		Prior:  []models.Choice{prior},
		Now:    now,
		Grace:  s.grace,
	})
	if err != nil {
		s.ledger.Refund(ctx, user, charge, reason)
		if !errors.Is(err, store.ErrNoMatch) {
			return nil, fmt.Errorf("record choice: %w", err)
		}
		current, getErr := s.store.GetSession(ctx, sessionID)
		if getErr != nil {
			return nil, fmt.Errorf("get session: %w", getErr)
		}
		if current.ChoiceOf(user) != prior {
			return nil, apperrors.New(apperrors.KindChoiceAlreadyRecorded, "Choice already recorded")
		}
		return nil, s.windowError(current)
	}

	s.activity.Log(ctx, user, activity.ActionBlindChoice, map[string]interface{}{
		"sessionId": sessionID.Hex(),
		"choice":    string(choice),
		"cost":      cost,
	})

	out := &Outcome{Choice: choice, Message: fmt.Sprintf("Choice '%s' recorded.", choice)}
	if charge != nil {
		out.Coins = charge.User.Coins
		if charge.Charged {
			out.Charged = cost
		}
	} else if u, err := s.store.GetUser(ctx, user); err == nil {
		out.Coins = u.Coins
	}

	switch {
	case updated.BothChoseChat():
		if updated, err = s.connect(ctx, updated, out); err != nil {
			return nil, err
		}
	case updated.AnyDeclined():
		ended, err := s.store.EndSession(ctx, sessionID, []models.SessionStatus{models.SessionActive}, models.EndDeclined, now)
		if err == nil {
			updated = ended
			metrics.RecordSessionTransition("declined", 1)
		} else if !errors.Is(err, store.ErrNoMatch) {
			return nil, fmt.Errorf("end declined session: %w", err)
		}
	}

	s.notifier.Publish(updated.Partner(user), "blind_choice", map[string]interface{}{
		"sessionId": sessionID.Hex(),
		"status":    updated.Status,
	})

	out.Status = updated.Status
	out.User1Choice = updated.User1Choice
	out.User2Choice = updated.User2Choice
	partner := updated.Partner(user)
	if updated.RevealedBy(partner) || choice == models.ChoiceChat {
		p, err := s.store.GetUser(ctx, partner)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("get partner: %w", err)
		}
		if err == nil {
			out.PartnerProfile = models.ProfileOf(p)
		}
	}
	return out, nil
}

// Connect retries the move to a permanent chat after both sides chose chat,
// typically once a slot was freed following a slots-full outcome.
func (s *Service) Connect(ctx context.Context, sessionID, user primitive.ObjectID) (*Outcome, error) {
	sess, err := s.partySession(ctx, sessionID, user)
	if err != nil {
		return nil, err
	}
	if !sess.BothChoseChat() {
		return nil, apperrors.New(apperrors.KindNotActive, "Both of you need to choose chat first")
	}
	if sess.Status == models.SessionEnded && sess.EndReason != models.EndExpired {
		return nil, apperrors.New(apperrors.KindNotActive, "This blind date session has ended")
	}

	out := &Outcome{Message: "Chat started!"}
	if sess.ConnectedAt == nil {
		if sess, err = s.connect(ctx, sess, out); err != nil {
			return nil, err
		}
	} else {
		out.Connected = true
	}
	if u, err := s.store.GetUser(ctx, user); err == nil {
		out.Coins = u.Coins
	}
	out.Status = sess.Status
	out.User1Choice = sess.User1Choice
	out.User2Choice = sess.User2Choice
	if p, err := s.store.GetUser(ctx, sess.Partner(user)); err == nil {
		out.PartnerProfile = models.ProfileOf(p)
	}
	return out, nil
}

// connect performs the mutual-chat transition: both slots are reserved, the
// session is stamped connected exactly once, and the pair gets a chatting
// like. A missing slot leaves the session untouched and sets out.SlotsFull.
func (s *Service) connect(ctx context.Context, sess *models.BlindSession, out *Outcome) (*models.BlindSession, error) {
	log := logrus.WithField("sessionId", sess.ID.Hex())

	existing, err := s.chattingLike(ctx, sess.User1, sess.User2)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		if err := s.ledger.ReservePair(ctx, sess.User1, sess.User2); err != nil {
			if errors.Is(err, apperrors.ErrNoSlotsAvailable) {
				metrics.RecordSessionTransition("slots_full", 1)
				out.SlotsFull = true
				out.Message = "One or both users have no available chat slots. Free up slots to continue."
				return sess, nil
			}
			return nil, err
		}
	}

	now := s.now()
	connected, err := s.store.ConnectSession(ctx, sess.ID, now)
	if err != nil {
		if existing == nil {
			s.releasePair(ctx, sess)
		}
		if !errors.Is(err, store.ErrNoMatch) {
			return nil, fmt.Errorf("connect session: %w", err)
		}
		current, getErr := s.store.GetSession(ctx, sess.ID)
		if getErr != nil {
			return nil, fmt.Errorf("get session: %w", getErr)
		}
		out.Connected = current.ConnectedAt != nil
		return current, nil
	}

	like := existing
	if like == nil {
		like, err = s.store.UpsertLike(ctx, sess.User1, sess.User2, store.LikeTransition{
			To:            models.LikeChatting,
			RevealedAt:    &now,
			ChatStartedAt: &now,
			IsBlindMatch:  true,
			Now:           now,
		}, []models.LikeStatus{models.LikeChatting})
		if err != nil {
			// a chat opened between the two through another path
			s.releasePair(ctx, sess)
			if !errors.Is(err, store.ErrDuplicate) {
				return nil, fmt.Errorf("open blind chat: %w", err)
			}
			log.Warn("[BlindDate] pair already chatting, slots released")
		}
	}

	metrics.RecordSessionTransition("connected", 1)
	out.Connected = true
	out.Message = "It's a match! You can keep chatting."
	data := map[string]string{"type": "blind_connected", "sessionId": sess.ID.Hex()}
	if like != nil {
		id := like.ID
		out.LikeID = &id
		data["likeId"] = like.ID.Hex()
	}

	for _, id := range []primitive.ObjectID{sess.User1, sess.User2} {
		s.activity.Log(ctx, id, activity.ActionChatStarted, map[string]interface{}{
			"sessionId": sess.ID.Hex(),
			"partner":   sess.Partner(id).Hex(),
			"blind":     true,
		})
		s.notifier.Publish(id, "blind_connected", data)
		s.notifier.Notify(ctx, id, notify.Message{
			Title: "It's a Vibe! 💚",
			Body:  "You both chose to keep chatting. Say hi!",
			Data:  data,
			Type:  models.NotifyChat,
		})
	}
	log.Info("[BlindDate] session connected")
	return connected, nil
}

// chattingLike returns the open chat between a and b in either direction.
func (s *Service) chattingLike(ctx context.Context, a, b primitive.ObjectID) (*models.Like, error) {
	for _, pair := range [][2]primitive.ObjectID{{a, b}, {b, a}} {
		l, err := s.store.FindLike(ctx, pair[0], pair[1])
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("find like: %w", err)
		}
		if l.Status == models.LikeChatting {
			return l, nil
		}
	}
	return nil, nil
}

func (s *Service) releasePair(ctx context.Context, sess *models.BlindSession) {
	if err := s.ledger.ReleasePair(ctx, sess.User1, sess.User2); err != nil {
		logrus.WithError(err).WithField("sessionId", sess.ID.Hex()).Error("[BlindDate] failed to release chat slots")
	}
}

// End lets a participant stop the session early. Ending an already ended
// session is a no-op.
func (s *Service) End(ctx context.Context, sessionID, user primitive.ObjectID) error {
	sess, err := s.partySession(ctx, sessionID, user)
	if err != nil {
		return err
	}

	_, err = s.store.EndSession(ctx, sessionID, liveStatuses, models.EndManual, s.now())
	switch {
	case err == nil:
		metrics.RecordSessionTransition("manual", 1)
		s.notifier.Publish(sess.Partner(user), "blind_ended", map[string]interface{}{
			"sessionId": sessionID.Hex(),
			"reason":    models.EndManual,
		})
	case !errors.Is(err, store.ErrNoMatch):
		return fmt.Errorf("end session: %w", err)
	}

	if err := s.store.DeleteQueueEntry(ctx, user); err != nil {
		return fmt.Errorf("leave queue: %w", err)
	}
	return nil
}
