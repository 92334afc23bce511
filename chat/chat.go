// Package chat carries the permanent conversations between matched users.
// Messages may only be sent while the pair holds a chatting like.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"campusconnect/activity"
	"campusconnect/apperrors"
	"campusconnect/models"
	"campusconnect/notify"
	"campusconnect/store"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	MaxMessageLength = 1000
	previewLength    = 50
)

// Store is the persistence the chat service needs.
type Store interface {
	store.UserStore
	store.LikeStore
	store.MessageStore
}

// Rewarder grants the one-time first chat bonus.
type Rewarder interface {
	FirstChatBonus(ctx context.Context, user primitive.ObjectID)
}

// Unmatcher closes an open chat and frees both slots.
type Unmatcher interface {
	Unmatch(ctx context.Context, likeID, requester primitive.ObjectID) error
}

type Service struct {
	store     Store
	notifier  notify.Notifier
	activity  activity.Logger
	unmatcher Unmatcher
	rewarder  Rewarder
	now       func() time.Time
}

func NewService(s Store, n notify.Notifier, u Unmatcher, logger activity.Logger) *Service {
	return &Service{store: s, notifier: n, unmatcher: u, activity: logger, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithRewarder(r Rewarder) *Service {
	s.rewarder = r
	return s
}

// chattingLike returns the open chat between a and b in either direction, or
// nil when there is none.
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

func partnerCheck(user, partner primitive.ObjectID) error {
	if user == partner {
		return apperrors.Validation("You cannot chat with yourself")
	}
	return nil
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	return string([]rune(text)[:previewLength]) + "..."
}

// Send stores a message from sender to receiver and alerts the receiver.
func (s *Service) Send(ctx context.Context, sender, receiver primitive.ObjectID, text string) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.Validation("Message text is required")
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return nil, apperrors.Validation("Message must be at most %d characters", MaxMessageLength)
	}
	if err := partnerCheck(sender, receiver); err != nil {
		return nil, err
	}

	like, err := s.chattingLike(ctx, sender, receiver)
	if err != nil {
		return nil, err
	}
	if like == nil {
		return nil, apperrors.New(apperrors.KindNotActive, "You are not chatting with this user")
	}

	from, err := s.store.GetUser(ctx, sender)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound("user")
	}
	if err != nil {
		return nil, fmt.Errorf("get sender: %w", err)
	}

	msg := &models.Message{
		Sender:    sender,
		Receiver:  receiver,
		Text:      text,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	s.notifier.Publish(receiver, "new_message", msg)
	s.notifier.Notify(ctx, receiver, notify.Message{
		Title: "New Message 💬",
		Body:  fmt.Sprintf("%s: %s", from.DisplayName(), preview(text)),
		Data: map[string]string{
			"type":       "chat",
			"chatUserId": sender.Hex(),
			"likeId":     like.ID.Hex(),
		},
		Type: models.NotifyChat,
	})

	if s.rewarder != nil && !from.FirstChatRewardClaimed {
		s.rewarder.FirstChatBonus(ctx, sender)
	}
	return msg, nil
}

// Messages returns the conversation between user and partner, oldest first.
func (s *Service) Messages(ctx context.Context, user, partner primitive.ObjectID) ([]models.Message, error) {
	if err := partnerCheck(user, partner); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListConversation(ctx, user, partner)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// MarkRead flags everything partner sent to user as read.
func (s *Service) MarkRead(ctx context.Context, user, partner primitive.ObjectID) (int64, error) {
	if err := partnerCheck(user, partner); err != nil {
		return 0, err
	}
	n, err := s.store.MarkConversationRead(ctx, partner, user, s.now())
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	if n > 0 {
		s.notifier.Publish(partner, "messages_read", map[string]interface{}{
			"by":    user.Hex(),
			"count": n,
		})
	}
	return n, nil
}

// DeleteResult reports what DeleteConversation removed.
type DeleteResult struct {
	Deleted   int64 `json:"deleted"`
	SlotFreed bool  `json:"slotFreed"`
}

// DeleteConversation removes the message history with partner and, when the
// two are still chatting, closes the chat so both slots are freed.
func (s *Service) DeleteConversation(ctx context.Context, user, partner primitive.ObjectID) (*DeleteResult, error) {
	if err := partnerCheck(user, partner); err != nil {
		return nil, err
	}
	n, err := s.store.DeleteConversation(ctx, user, partner)
	if err != nil {
		return nil, fmt.Errorf("delete messages: %w", err)
	}
	out := &DeleteResult{Deleted: n}

	like, err := s.chattingLike(ctx, user, partner)
	if err != nil {
		return nil, err
	}
	if like != nil {
		err := s.unmatcher.Unmatch(ctx, like.ID, user)
		switch {
		case err == nil:
			out.SlotFreed = true
		case errors.Is(err, apperrors.ErrNotActive):
			// closed concurrently by the partner
		default:
			return nil, err
		}
	}

	s.activity.Log(ctx, user, activity.ActionConvDeleted, map[string]interface{}{
		"partnerId": partner.Hex(),
		"deleted":   n,
		"slotFreed": out.SlotFreed,
	})
	logrus.WithFields(logrus.Fields{
		"userId":    user.Hex(),
		"partnerId": partner.Hex(),
		"deleted":   n,
	}).Info("[Chat] conversation deleted")
	return out, nil
}
