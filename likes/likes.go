// Package likes manages directional likes between users and their status
// machine: pending, revealed, chatting, declined, passed and archived.
// Only chatting holds a chat slot on both parties.
package likes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

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
	RevealCost     = 70
	StartChatCost  = 100
	DirectChatCost = 150
)

const (
	ReasonYourSlotsFull  = "your_slots_full"
	ReasonTheirSlotsFull = "their_slots_full"
)

// Store is the persistence the like service needs.
type Store interface {
	store.UserStore
	store.LikeStore
}

// Invalidator drops per-user derived views after the user's interactions change.
type Invalidator interface {
	Invalidate(ctx context.Context, user primitive.ObjectID)
}

type Service struct {
	store       Store
	ledger      *ledger.Service
	notifier    notify.Notifier
	activity    activity.Logger
	invalidator Invalidator
	now         func() time.Time
}

func NewService(s Store, l *ledger.Service, n notify.Notifier, logger activity.Logger) *Service {
	return &Service{
		store:    s,
		ledger:   l,
		notifier: n,
		activity: logger,
		now:      time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithInvalidator registers a view cache cleared on like and pass.
func (s *Service) WithInvalidator(inv Invalidator) *Service {
	s.invalidator = inv
	return s
}

func (s *Service) invalidate(ctx context.Context, user primitive.ObjectID) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, user)
	}
}

func (s *Service) getUser(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound("user")
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *Service) getLike(ctx context.Context, id primitive.ObjectID) (*models.Like, error) {
	l, err := s.store.GetLike(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound("like")
	}
	if err != nil {
		return nil, fmt.Errorf("get like: %w", err)
	}
	return l, nil
}

// receivedLike loads a like addressed to requester. Likes owned by anyone
// else are reported as missing.
func (s *Service) receivedLike(ctx context.Context, id, requester primitive.ObjectID) (*models.Like, error) {
	l, err := s.getLike(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.Receiver != requester {
		return nil, apperrors.NotFound("like")
	}
	return l, nil
}

// LikeResult is the outcome of RecordLike.
type LikeResult struct {
	Likes   int          `json:"likes"`
	IsMatch bool         `json:"isMatch"`
	CanChat bool         `json:"canChat"`
	Reason  string       `json:"reason,omitempty"`
	Like    *models.Like `json:"like,omitempty"`
	Message string       `json:"message"`
}

// RecordLike sends one like from sender to receiver. A pending like in the
// other direction turns into a chat when both sides have a free slot.
func (s *Service) RecordLike(ctx context.Context, sender, receiver primitive.ObjectID) (*LikeResult, error) {
	if sender == receiver {
		return nil, apperrors.Validation("You cannot like yourself")
	}
	target, err := s.getUser(ctx, receiver)
	if err != nil {
		return nil, err
	}

	me, err := s.ledger.RegenerateLikes(ctx, sender)
	if err != nil {
		return nil, err
	}
	if me.Likes < 1 {
		return nil, apperrors.New(apperrors.KindNoLikesRemaining, "No likes remaining. Wait for regeneration or buy more!")
	}

	if _, err := s.store.FindLike(ctx, sender, receiver); err == nil {
		return nil, apperrors.New(apperrors.KindAlreadyInteracted, "You already liked this person!")
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("find like: %w", err)
	}

	reciprocal, err := s.store.FindLike(ctx, receiver, sender)
	switch {
	case err == nil && reciprocal.Status == models.LikePending:
		return s.match(ctx, me, target, reciprocal)
	case err == nil && reciprocal.Status == models.LikeChatting:
		return nil, apperrors.New(apperrors.KindAlreadyChatting, "You are already chatting with this person")
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("find reciprocal like: %w", err)
	}

	spent, err := s.ledger.ConsumeLike(ctx, sender)
	if err != nil {
		return nil, err
	}
	now := s.now()
	like := &models.Like{
		Sender:    sender,
		Receiver:  receiver,
		Status:    models.LikePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateLike(ctx, like); err != nil {
		s.ledger.RefundLike(ctx, sender)
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperrors.New(apperrors.KindAlreadyInteracted, "You already liked this person!")
		}
		return nil, fmt.Errorf("create like: %w", err)
	}

	metrics.RecordLikeOutcome("sent")
	s.activity.Log(ctx, sender, activity.ActionLikeSent, map[string]interface{}{
		"receiver": receiver.Hex(),
		"likeId":   like.ID.Hex(),
	})
	s.invalidate(ctx, sender)
	s.notifier.Notify(ctx, receiver, notify.Message{
		Title: "New Like! ❤️",
		Body:  "Someone likes your vibe! Check it out.",
		Data:  map[string]string{"type": "like", "likeId": like.ID.Hex()},
		Type:  models.NotifyLike,
	})

	return &LikeResult{
		Likes:   spent.Likes,
		Like:    like,
		Message: "Like sent! They will see you in their Chat tab.",
	}, nil
}

func (s *Service) match(ctx context.Context, me, target *models.User, reciprocal *models.Like) (*LikeResult, error) {
	short, found, err := s.ledger.SlotShortage(ctx, me.ID, target.ID)
	if err != nil {
		return nil, err
	}
	if found {
		return s.matchWithoutSlots(ctx, me.ID, short)
	}

	if err := s.ledger.ReservePair(ctx, me.ID, target.ID); err != nil {
		if appErr, ok := apperrors.As(err); ok && appErr.Kind == apperrors.KindNoSlotsAvailable {
			id, _ := primitive.ObjectIDFromHex(fmt.Sprint(appErr.Details["userId"]))
			return s.matchWithoutSlots(ctx, me.ID, id)
		}
		return nil, err
	}

	spent, err := s.ledger.ConsumeLike(ctx, me.ID)
	if err != nil {
		s.releasePair(ctx, me.ID, target.ID)
		return nil, err
	}

	now := s.now()
	chatting, err := s.store.TransitionLike(ctx, reciprocal.ID, []models.LikeStatus{models.LikePending}, store.LikeTransition{
		To:            models.LikeChatting,
		RevealedAt:    &now,
		ChatStartedAt: &now,
		Now:           now,
	})
	if err != nil {
		s.ledger.RefundLike(ctx, me.ID)
		s.releasePair(ctx, me.ID, target.ID)
		if errors.Is(err, store.ErrNoMatch) {
			return nil, apperrors.New(apperrors.KindConflict, "This like changed while matching. Try again.")
		}
		return nil, fmt.Errorf("open match: %w", err)
	}

	metrics.RecordLikeOutcome("match")
	s.activity.Log(ctx, me.ID, activity.ActionMatch, map[string]interface{}{
		"partner": target.ID.Hex(),
		"likeId":  chatting.ID.Hex(),
	})
	s.invalidate(ctx, me.ID)
	s.invalidate(ctx, target.ID)

	data := map[string]string{"type": "match", "matchId": chatting.ID.Hex()}
	s.notifier.Notify(ctx, target.ID, notify.Message{
		Title: "It's a Vibe! 💚",
		Body:  fmt.Sprintf("You matched with %s!", me.DisplayName()),
		Data:  data,
		Type:  models.NotifyMatch,
	})
	s.notifier.Notify(ctx, me.ID, notify.Message{
		Title: "It's a Vibe! 💚",
		Body:  fmt.Sprintf("You matched with %s!", target.DisplayName()),
		Data:  data,
		Type:  models.NotifyMatch,
	})

	return &LikeResult{
		Likes:   spent.Likes,
		IsMatch: true,
		CanChat: true,
		Like:    chatting,
		Message: "It's a Match! You can now start chatting.",
	}, nil
}

// matchWithoutSlots spends the like on a mutual match that cannot open a chat
// because short has no free slot.
func (s *Service) matchWithoutSlots(ctx context.Context, sender, short primitive.ObjectID) (*LikeResult, error) {
	spent, err := s.ledger.ConsumeLike(ctx, sender)
	if err != nil {
		return nil, err
	}
	metrics.RecordLikeOutcome("slots_full")
	s.invalidate(ctx, sender)

	res := &LikeResult{Likes: spent.Likes, IsMatch: true, CanChat: false}
	if short == sender {
		res.Reason = ReasonYourSlotsFull
		res.Message = "💕 It's a match! They like you too! Get more chat slots to start vibing."
	} else {
		res.Reason = ReasonTheirSlotsFull
		res.Message = "💕 It's a match! They like you too! They're popular - their chat slots are full right now."
	}
	return res, nil
}

func (s *Service) releasePair(ctx context.Context, a, b primitive.ObjectID) {
	if err := s.ledger.ReleasePair(ctx, a, b); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"userA": a.Hex(),
			"userB": b.Hex(),
		}).Error("[Likes] failed to release chat slots")
	}
}

// ReceivedLike is a like shown to its receiver. Sender is a *models.Profile
// once revealed and a *models.BlurredProfile while pending.
type ReceivedLike struct {
	ID        primitive.ObjectID `json:"id"`
	Status    models.LikeStatus  `json:"status"`
	CreatedAt time.Time          `json:"createdAt"`
	Sender    interface{}        `json:"sender"`
}

func (s *Service) ReceivedLikes(ctx context.Context, user primitive.ObjectID) ([]ReceivedLike, error) {
	likes, err := s.store.ListLikesReceived(ctx, user, []models.LikeStatus{models.LikePending, models.LikeRevealed})
	if err != nil {
		return nil, fmt.Errorf("list received likes: %w", err)
	}

	out := make([]ReceivedLike, 0, len(likes))
	for _, l := range likes {
		sender, err := s.store.GetUser(ctx, l.Sender)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get like sender: %w", err)
		}
		item := ReceivedLike{ID: l.ID, Status: l.Status, CreatedAt: l.CreatedAt}
		if l.Status == models.LikePending {
			item.Sender = models.BlurredProfileOf(sender)
		} else {
			item.Sender = models.ProfileOf(sender)
		}
		out = append(out, item)
	}
	return out, nil
}

// RevealResult carries the revealed sender.
type RevealResult struct {
	Coins  int             `json:"coins"`
	Like   *models.Like    `json:"like"`
	Sender *models.Profile `json:"sender"`
}

// Reveal pays to see who sent a pending like.
func (s *Service) Reveal(ctx context.Context, likeID, requester primitive.ObjectID) (*RevealResult, error) {
	l, err := s.receivedLike(ctx, likeID, requester)
	if err != nil {
		return nil, err
	}
	if l.Status != models.LikePending {
		return nil, apperrors.New(apperrors.KindAlreadyRevealed, "Profile already revealed")
	}

	charge, err := s.ledger.Debit(ctx, requester, RevealCost, "Profile Reveal")
	if err != nil {
		return nil, err
	}

	now := s.now()
	revealed, err := s.store.TransitionLike(ctx, likeID, []models.LikeStatus{models.LikePending}, store.LikeTransition{
		To:         models.LikeRevealed,
		RevealedAt: &now,
		Now:        now,
	})
	if err != nil {
		s.ledger.Refund(ctx, requester, charge, "Profile Reveal")
		if errors.Is(err, store.ErrNoMatch) {
			return nil, apperrors.New(apperrors.KindAlreadyRevealed, "Profile already revealed")
		}
		return nil, fmt.Errorf("reveal like: %w", err)
	}

	sender, err := s.getUser(ctx, revealed.Sender)
	if err != nil {
		return nil, err
	}
	return &RevealResult{Coins: charge.User.Coins, Like: revealed, Sender: models.ProfileOf(sender)}, nil
}

// ChatResult reports a newly opened chat.
type ChatResult struct {
	Coins           int                `json:"coins"`
	ActiveChatCount int                `json:"activeChatCount"`
	ChatPartnerID   primitive.ObjectID `json:"chatPartnerId"`
	Like            *models.Like       `json:"like"`
	Sender          *models.Profile    `json:"sender,omitempty"`
}

func closedStatusError(st models.LikeStatus) error {
	if st == models.LikeChatting {
		return apperrors.New(apperrors.KindAlreadyChatting, "Chat already started")
	}
	return apperrors.New(apperrors.KindNotActive, "This like is no longer active")
}

// StartChat opens a chat on a revealed like.
func (s *Service) StartChat(ctx context.Context, likeID, requester primitive.ObjectID) (*ChatResult, error) {
	l, err := s.receivedLike(ctx, likeID, requester)
	if err != nil {
		return nil, err
	}
	switch l.Status {
	case models.LikePending:
		return nil, apperrors.New(apperrors.KindRevealRequired, "Must reveal profile first")
	case models.LikeRevealed:
	default:
		return nil, closedStatusError(l.Status)
	}
	return s.openChat(ctx, l, requester, []models.LikeStatus{models.LikeRevealed}, StartChatCost, "Start Chat from Like")
}

// DirectChat reveals and opens a chat in one step.
func (s *Service) DirectChat(ctx context.Context, likeID, requester primitive.ObjectID) (*ChatResult, error) {
	l, err := s.receivedLike(ctx, likeID, requester)
	if err != nil {
		return nil, err
	}
	switch l.Status {
	case models.LikePending, models.LikeRevealed:
	default:
		return nil, closedStatusError(l.Status)
	}
	res, err := s.openChat(ctx, l, requester, []models.LikeStatus{models.LikePending, models.LikeRevealed}, DirectChatCost, "Direct Chat (Reveal + Chat)")
	if err != nil {
		return nil, err
	}
	sender, err := s.getUser(ctx, l.Sender)
	if err != nil {
		return nil, err
	}
	res.Sender = models.ProfileOf(sender)
	return res, nil
}

// openChat reserves both slots, charges cost and flips the like to chatting.
// Every step before the status change is undone when a later one fails.
func (s *Service) openChat(ctx context.Context, l *models.Like, requester primitive.ObjectID, from []models.LikeStatus, cost int, reason string) (*ChatResult, error) {
	if err := s.ledger.ReservePair(ctx, requester, l.Sender); err != nil {
		return nil, err
	}

	charge, err := s.ledger.Debit(ctx, requester, cost, reason)
	if err != nil {
		s.releasePair(ctx, requester, l.Sender)
		return nil, err
	}

	now := s.now()
	t := store.LikeTransition{To: models.LikeChatting, ChatStartedAt: &now, Now: now}
	if l.RevealedAt == nil {
		t.RevealedAt = &now
	}
	chatting, err := s.store.TransitionLike(ctx, l.ID, from, t)
	if err != nil {
		s.ledger.Refund(ctx, requester, charge, reason)
		s.releasePair(ctx, requester, l.Sender)
		if !errors.Is(err, store.ErrNoMatch) {
			return nil, fmt.Errorf("start chat: %w", err)
		}
		current, getErr := s.getLike(ctx, l.ID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, closedStatusError(current.Status)
	}

	s.activity.Log(ctx, requester, activity.ActionChatStarted, map[string]interface{}{
		"partner": l.Sender.Hex(),
		"likeId":  l.ID.Hex(),
	})
	s.notifier.Publish(l.Sender, "chat_started", map[string]interface{}{
		"likeId":    l.ID.Hex(),
		"partnerId": requester.Hex(),
	})

	return &ChatResult{
		Coins:           charge.User.Coins,
		ActiveChatCount: charge.User.ActiveChatCount,
		ChatPartnerID:   l.Sender,
		Like:            chatting,
	}, nil
}

// Decline rejects a pending or revealed like. Only the receiver may decline.
func (s *Service) Decline(ctx context.Context, likeID, requester primitive.ObjectID) error {
	if _, err := s.receivedLike(ctx, likeID, requester); err != nil {
		return err
	}
	_, err := s.store.TransitionLike(ctx, likeID, []models.LikeStatus{models.LikePending, models.LikeRevealed}, store.LikeTransition{
		To:  models.LikeDeclined,
		Now: s.now(),
	})
	if errors.Is(err, store.ErrNoMatch) {
		return apperrors.New(apperrors.KindNotActive, "This like can no longer be declined")
	}
	if err != nil {
		return fmt.Errorf("decline like: %w", err)
	}
	metrics.RecordLikeOutcome("declined")
	s.invalidate(ctx, requester)
	return nil
}

// Pass hides target from sender's discovery. An open chat is never overwritten.
func (s *Service) Pass(ctx context.Context, sender, target primitive.ObjectID) error {
	if sender == target {
		return apperrors.Validation("You cannot pass on yourself")
	}
	_, err := s.store.UpsertLike(ctx, sender, target,
		store.LikeTransition{To: models.LikePassed, Now: s.now()},
		[]models.LikeStatus{models.LikeChatting})
	if errors.Is(err, store.ErrDuplicate) {
		return apperrors.New(apperrors.KindAlreadyChatting, "You are already chatting with this person")
	}
	if err != nil {
		return fmt.Errorf("pass user: %w", err)
	}
	metrics.RecordLikeOutcome("passed")
	s.invalidate(ctx, sender)
	return nil
}

// Unmatch archives an open chat and frees a slot on both sides.
func (s *Service) Unmatch(ctx context.Context, likeID, requester primitive.ObjectID) error {
	l, err := s.store.GetLike(ctx, likeID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !l.Involves(requester)) {
		return apperrors.NotFound("chat")
	}
	if err != nil {
		return fmt.Errorf("get like: %w", err)
	}

	_, err = s.store.TransitionLike(ctx, likeID, []models.LikeStatus{models.LikeChatting}, store.LikeTransition{
		To:  models.LikeArchived,
		Now: s.now(),
	})
	if errors.Is(err, store.ErrNoMatch) {
		return apperrors.New(apperrors.KindNotActive, "Chat is not active")
	}
	if err != nil {
		return fmt.Errorf("unmatch: %w", err)
	}

	if err := s.ledger.ReleasePair(ctx, l.Sender, l.Receiver); err != nil {
		return err
	}
	s.activity.Log(ctx, requester, activity.ActionUnmatch, map[string]interface{}{
		"likeId":  likeID.Hex(),
		"partner": l.Counterpart(requester).Hex(),
	})
	s.notifier.Publish(l.Counterpart(requester), "unmatched", map[string]interface{}{"likeId": likeID.Hex()})
	return nil
}

// ActiveChat summarizes one open chat from the viewer's side.
type ActiveChat struct {
	LikeID        primitive.ObjectID `json:"likeId"`
	PartnerID     primitive.ObjectID `json:"partnerId"`
	PartnerName   string             `json:"partnerName"`
	PartnerImage  string             `json:"partnerImage"`
	ChatStartedAt *time.Time         `json:"chatStartedAt"`
	IsBlindMatch  bool               `json:"isBlindMatch"`
}

func (s *Service) ActiveChats(ctx context.Context, user primitive.ObjectID) ([]ActiveChat, error) {
	likes, err := s.store.ListLikesInvolving(ctx, user, []models.LikeStatus{models.LikeChatting})
	if err != nil {
		return nil, fmt.Errorf("list active chats: %w", err)
	}

	out := make([]ActiveChat, 0, len(likes))
	for _, l := range likes {
		partner, err := s.store.GetUser(ctx, l.Counterpart(user))
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get chat partner: %w", err)
		}
		image := partner.ProfileImage
		if len(partner.DatingPhotos) > 0 {
			image = partner.DatingPhotos[0]
		}
		out = append(out, ActiveChat{
			LikeID:        l.ID,
			PartnerID:     partner.ID,
			PartnerName:   partner.DisplayName(),
			PartnerImage:  image,
			ChatStartedAt: l.ChatStartedAt,
			IsBlindMatch:  l.IsBlindMatch,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return startedAt(out[i]).After(startedAt(out[j]))
	})
	return out, nil
}

func startedAt(c ActiveChat) time.Time {
	if c.ChatStartedAt == nil {
		return time.Time{}
	}
	return *c.ChatStartedAt
}

// ExcludedCounterparts lists users that discovery must not offer to user:
// everyone user already liked or passed, and everyone whose like user
// declined or turned into a chat.
func (s *Service) ExcludedCounterparts(ctx context.Context, user primitive.ObjectID) (map[primitive.ObjectID]struct{}, error) {
	sent, err := s.store.ListLikesSent(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("list sent likes: %w", err)
	}
	received, err := s.store.ListLikesReceived(ctx, user, []models.LikeStatus{
		models.LikeDeclined,
		models.LikeChatting,
		models.LikeArchived,
		models.LikePassed,
	})
	if err != nil {
		return nil, fmt.Errorf("list received likes: %w", err)
	}

	out := make(map[primitive.ObjectID]struct{}, len(sent)+len(received))
	for _, l := range sent {
		out[l.Receiver] = struct{}{}
	}
	for _, l := range received {
		out[l.Sender] = struct{}{}
	}
	return out, nil
}
