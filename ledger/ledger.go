// Package ledger owns every mutation of a user's coins, likes and chat slots.
// Each operation is a single conditional document update; two-user slot
// reservation is check-both-then-reserve with compensation.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campusconnect/activity"
	"campusconnect/apperrors"
	"campusconnect/metrics"
	"campusconnect/models"
	"campusconnect/store"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	DailyLikeFloor = 10
	RegenInterval  = 24 * time.Hour

	LikePackPrice = 100
	LikePackSize  = 5
	ChatSlotPrice = 150
)

// DebitResult reports the post-debit user and whether coins actually moved.
// Charged is false under an active unlimited plan.
type DebitResult struct {
	User    *models.User
	Amount  int
	Charged bool
}

type Service struct {
	users    store.UserStore
	activity activity.Logger
	now      func() time.Time
}

func NewService(users store.UserStore, logger activity.Logger) *Service {
	return &Service{users: users, activity: logger, now: time.Now}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) getUser(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	u, err := s.users.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound("user")
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// RegenerateLikes tops likes up to the daily floor once per interval.
func (s *Service) RegenerateLikes(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	now := s.now()
	u, err := s.users.RegenerateLikes(ctx, id, DailyLikeFloor, now.Add(-RegenInterval), now)
	if errors.Is(err, store.ErrNoMatch) {
		return s.getUser(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("regenerate likes: %w", err)
	}
	return u, nil
}

// Debit charges amount coins. Under an unlimited plan nothing is deducted.
func (s *Service) Debit(ctx context.Context, id primitive.ObjectID, amount int, reason string) (*DebitResult, error) {
	return s.debitWithGrant(ctx, id, amount, store.Grant{}, reason)
}

func (s *Service) debitWithGrant(ctx context.Context, id primitive.ObjectID, amount int, g store.Grant, reason string) (*DebitResult, error) {
	if amount < 0 {
		return nil, apperrors.Validation("amount must not be negative")
	}
	now := s.now()

	u, err := s.users.GrantIfUnlimited(ctx, id, now, g)
	if err == nil {
		return &DebitResult{User: u, Amount: amount, Charged: false}, nil
	}
	if !errors.Is(err, store.ErrNoMatch) {
		return nil, fmt.Errorf("debit: %w", err)
	}

	u, err = s.users.DebitCoins(ctx, id, amount, g)
	if errors.Is(err, store.ErrNoMatch) {
		current, getErr := s.getUser(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, apperrors.New(apperrors.KindInsufficientFunds, "Insufficient coins. You need %d coins.", amount).
			WithDetail("required", amount).
			WithDetail("current", current.Coins)
	}
	if err != nil {
		return nil, fmt.Errorf("debit: %w", err)
	}

	if amount > 0 {
		metrics.RecordDebit(reason, amount)
		s.activity.Log(ctx, id, activity.ActionCoinsDeducted, map[string]interface{}{
			"amount": amount,
			"reason": reason,
		})
	}
	return &DebitResult{User: u, Amount: amount, Charged: amount > 0}, nil
}

// Credit adds coins unconditionally.
func (s *Service) Credit(ctx context.Context, id primitive.ObjectID, amount int, reason string) (*models.User, error) {
	if amount <= 0 {
		return nil, apperrors.Validation("amount must be positive")
	}
	u, err := s.users.Grant(ctx, id, store.Grant{Coins: amount})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound("user")
	}
	if err != nil {
		return nil, fmt.Errorf("credit: %w", err)
	}

	metrics.RecordCredit(reason, amount)
	s.activity.Log(ctx, id, activity.ActionCoinsCredited, map[string]interface{}{
		"amount": amount,
		"reason": reason,
	})
	return u, nil
}

// Refund returns the coins of a debit that lost a later race. It is a no-op
// when nothing was charged.
func (s *Service) Refund(ctx context.Context, id primitive.ObjectID, res *DebitResult, reason string) {
	if res == nil || !res.Charged {
		return
	}
	if _, err := s.Credit(ctx, id, res.Amount, "refund: "+reason); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"userId": id.Hex(),
			"amount": res.Amount,
		}).Error("[Ledger] refund failed")
	}
}

// ConsumeLike spends one like.
func (s *Service) ConsumeLike(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	u, err := s.users.ConsumeLike(ctx, id)
	if errors.Is(err, store.ErrNoMatch) {
		if _, getErr := s.getUser(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, apperrors.New(apperrors.KindNoLikesRemaining, "No likes remaining. Buy more or wait for the daily refill.")
	}
	if err != nil {
		return nil, fmt.Errorf("consume like: %w", err)
	}
	return u, nil
}

// RefundLike returns a like spent on an interaction that did not happen.
func (s *Service) RefundLike(ctx context.Context, id primitive.ObjectID) {
	if _, err := s.users.Grant(ctx, id, store.Grant{Likes: 1}); err != nil {
		logrus.WithError(err).WithField("userId", id.Hex()).Error("[Ledger] like refund failed")
	}
}

func noSlots(id primitive.ObjectID) *apperrors.Error {
	return apperrors.New(apperrors.KindNoSlotsAvailable, "No chat slots available").
		WithDetail("userId", id.Hex())
}

// ReserveChatSlot occupies one of the user's chat slots.
func (s *Service) ReserveChatSlot(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	u, err := s.users.ReserveChatSlot(ctx, id)
	if errors.Is(err, store.ErrNoMatch) {
		if _, getErr := s.getUser(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, noSlots(id)
	}
	if err != nil {
		return nil, fmt.Errorf("reserve chat slot: %w", err)
	}
	return u, nil
}

// ReleaseChatSlot frees one slot. Releasing at zero is logged and ignored.
func (s *Service) ReleaseChatSlot(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.users.ReleaseChatSlot(ctx, id)
	if errors.Is(err, store.ErrNoMatch) {
		logrus.WithField("userId", id.Hex()).Warn("[Ledger] release with no active chats")
		return nil
	}
	if err != nil {
		return fmt.Errorf("release chat slot: %w", err)
	}
	return nil
}

// SlotShortage reports which of a pair lacks a free slot, if any.
func (s *Service) SlotShortage(ctx context.Context, a, b primitive.ObjectID) (primitive.ObjectID, bool, error) {
	ua, err := s.getUser(ctx, a)
	if err != nil {
		return primitive.NilObjectID, false, err
	}
	if !ua.HasFreeSlot() {
		return a, true, nil
	}
	ub, err := s.getUser(ctx, b)
	if err != nil {
		return primitive.NilObjectID, false, err
	}
	if !ub.HasFreeSlot() {
		return b, true, nil
	}
	return primitive.NilObjectID, false, nil
}

// ReservePair reserves a slot on both users or on neither. The returned
// NoSlotsAvailable error names the user that lacked one in Details["userId"].
func (s *Service) ReservePair(ctx context.Context, a, b primitive.ObjectID) error {
	short, found, err := s.SlotShortage(ctx, a, b)
	if err != nil {
		return err
	}
	if found {
		return noSlots(short)
	}

	if _, err := s.ReserveChatSlot(ctx, a); err != nil {
		return err
	}
	if _, err := s.ReserveChatSlot(ctx, b); err != nil {
		if relErr := s.ReleaseChatSlot(ctx, a); relErr != nil {
			logrus.WithError(relErr).WithField("userId", a.Hex()).Error("[Ledger] compensation release failed")
		}
		return err
	}
	return nil
}

// ReleasePair frees one slot on each user.
func (s *Service) ReleasePair(ctx context.Context, a, b primitive.ObjectID) error {
	errA := s.ReleaseChatSlot(ctx, a)
	errB := s.ReleaseChatSlot(ctx, b)
	if errA != nil {
		return errA
	}
	return errB
}

// BuyLikes exchanges coins for a like pack in one update.
func (s *Service) BuyLikes(ctx context.Context, id primitive.ObjectID) (*DebitResult, error) {
	return s.debitWithGrant(ctx, id, LikePackPrice, store.Grant{Likes: LikePackSize}, "Buy Likes")
}

// BuyChatSlot exchanges coins for one extra permanent chat slot.
func (s *Service) BuyChatSlot(ctx context.Context, id primitive.ObjectID) (*DebitResult, error) {
	return s.debitWithGrant(ctx, id, ChatSlotPrice, store.Grant{ChatSlots: 1}, "Buy Chat Slot")
}

// GrantUnlimited extends the unlimited-coins plan by days.
func (s *Service) GrantUnlimited(ctx context.Context, id primitive.ObjectID, days int) (*models.User, error) {
	if days <= 0 {
		return nil, apperrors.Validation("days must be positive")
	}
	u, err := s.users.ExtendUnlimited(ctx, id, time.Duration(days)*24*time.Hour, s.now())
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound("user")
	}
	if err != nil {
		return nil, fmt.Errorf("grant unlimited: %w", err)
	}
	s.activity.Log(ctx, id, activity.ActionPurchase, map[string]interface{}{"unlimitedDays": days})
	return u, nil
}

// Status is the user's economy at a glance.
type Status struct {
	Likes          int        `json:"likes"`
	ChatSlots      int        `json:"chatSlots"`
	ActiveChats    int        `json:"activeChatCount"`
	AvailableSlots int        `json:"availableSlots"`
	Coins          int        `json:"coins"`
	Unlimited      bool       `json:"unlimited"`
	UnlimitedUntil *time.Time `json:"unlimitedUntil,omitempty"`
	NextRegenAt    *time.Time `json:"nextRegenAt"`
	DailyFloor     int        `json:"dailyLikes"`
}

func (s *Service) Status(ctx context.Context, id primitive.ObjectID) (*Status, error) {
	u, err := s.RegenerateLikes(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	st := &Status{
		Likes:          u.Likes,
		ChatSlots:      u.ChatSlots,
		ActiveChats:    u.ActiveChatCount,
		AvailableSlots: u.AvailableSlots(),
		Coins:          u.Coins,
		Unlimited:      u.HasUnlimited(now),
		DailyFloor:     DailyLikeFloor,
	}
	if st.Unlimited {
		st.UnlimitedUntil = u.UnlimitedCoinsExpiry
	}
	if u.Likes < DailyLikeFloor {
		next := u.LastLikeRegenTime.Add(RegenInterval)
		st.NextRegenAt = &next
	}
	return st, nil
}
