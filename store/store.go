// Package store declares the persistence contracts used by the dating services.
//
// Every mutating method is a single-document atomic operation. Methods documented
// as conditional return ErrNoMatch when the document exists but the condition does
// not hold (or the document is missing); callers re-read to tell the two apart.
package store

import (
	"context"
	"errors"
	"time"

	"campusconnect/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNotFound is returned by lookups that find no document.
	ErrNotFound = errors.New("store: not found")
	// ErrNoMatch is returned by conditional updates whose filter matched nothing.
	ErrNoMatch = errors.New("store: condition not met")
	// ErrDuplicate is returned when a unique index rejects a write.
	ErrDuplicate = errors.New("store: duplicate key")
)

// Grant is an unconditional increment of ledger counters.
type Grant struct {
	Coins     int
	Likes     int
	ChatSlots int
}

// RewardFlag names a once-only reward field on the user document.
type RewardFlag string

const (
	RewardProfile   RewardFlag = "profileRewardClaimed"
	RewardFirstChat RewardFlag = "firstChatRewardClaimed"
)

// UserStore persists users and their ledger counters.
type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*models.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*models.User, error)
	// SetReferralCode is conditional on the user having no code yet.
	SetReferralCode(ctx context.Context, id primitive.ObjectID, code string) (*models.User, error)
	// SetReferredBy is conditional on the user not having been referred yet.
	SetReferredBy(ctx context.Context, id, referrer primitive.ObjectID) error
	UpdateDatingProfile(ctx context.Context, id primitive.ObjectID, p models.DatingProfileUpdate, complete bool) (*models.User, error)
	TouchUser(ctx context.Context, id primitive.ObjectID, now time.Time) error
	// ListDatingCandidates returns users other than viewer with complete dating
	// profiles whose gender is in genders (any gender when genders is nil).
	ListDatingCandidates(ctx context.Context, viewer primitive.ObjectID, genders []models.Gender) ([]models.User, error)

	// RegenerateLikes raises likes to floor and stamps now, conditional on the
	// last regeneration being at or before due.
	RegenerateLikes(ctx context.Context, id primitive.ObjectID, floor int, due, now time.Time) (*models.User, error)
	// DebitCoins subtracts amount and applies g, conditional on coins >= amount.
	DebitCoins(ctx context.Context, id primitive.ObjectID, amount int, g Grant) (*models.User, error)
	// GrantIfUnlimited applies g, conditional on an unlimited plan covering now.
	GrantIfUnlimited(ctx context.Context, id primitive.ObjectID, now time.Time, g Grant) (*models.User, error)
	Grant(ctx context.Context, id primitive.ObjectID, g Grant) (*models.User, error)
	// ConsumeLike decrements likes, conditional on likes >= 1.
	ConsumeLike(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	// ReserveChatSlot increments activeChatCount, conditional on it being below chatSlots.
	ReserveChatSlot(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	// ReleaseChatSlot decrements activeChatCount, conditional on it being positive.
	ReleaseChatSlot(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	// ExtendUnlimited pushes unlimitedCoinsExpiry to max(expiry, now) + d.
	ExtendUnlimited(ctx context.Context, id primitive.ObjectID, d time.Duration, now time.Time) (*models.User, error)
	// ClaimDailyReward credits amount and stamps now, conditional on the last
	// claim being unset or at or before due.
	ClaimDailyReward(ctx context.Context, id primitive.ObjectID, amount int, due, now time.Time) (*models.User, error)
	// ClaimOnce credits amount and sets flag, conditional on flag being unset.
	ClaimOnce(ctx context.Context, id primitive.ObjectID, flag RewardFlag, amount int) (*models.User, error)
}

// LikeTransition describes a status change on a like.
type LikeTransition struct {
	To            models.LikeStatus
	RevealedAt    *time.Time
	ChatStartedAt *time.Time
	IsBlindMatch  bool
	Now           time.Time
}

// LikeStore persists directional likes. (sender, receiver) is unique.
type LikeStore interface {
	CreateLike(ctx context.Context, l *models.Like) error
	GetLike(ctx context.Context, id primitive.ObjectID) (*models.Like, error)
	FindLike(ctx context.Context, sender, receiver primitive.ObjectID) (*models.Like, error)
	// TransitionLike applies t, conditional on the current status being in from.
	TransitionLike(ctx context.Context, id primitive.ObjectID, from []models.LikeStatus, t LikeTransition) (*models.Like, error)
	// UpsertLike creates or updates sender->receiver with t. An existing record
	// whose status is in unless is left untouched and ErrDuplicate is returned.
	UpsertLike(ctx context.Context, sender, receiver primitive.ObjectID, t LikeTransition, unless []models.LikeStatus) (*models.Like, error)
	ListLikesReceived(ctx context.Context, receiver primitive.ObjectID, statuses []models.LikeStatus) ([]models.Like, error)
	ListLikesInvolving(ctx context.Context, user primitive.ObjectID, statuses []models.LikeStatus) ([]models.Like, error)
	ListLikesSent(ctx context.Context, sender primitive.ObjectID) ([]models.Like, error)
}

// ChoiceUpdate records one participant's post-timer choice.
type ChoiceUpdate struct {
	Side   int
	Choice models.Choice
	// Prior lists the choices the participant may currently hold.
	Prior []models.Choice
	Now   time.Time
	// Grace is how long after expiresAt an expired session still accepts choices.
	Grace time.Duration
}

// SessionStore persists blind-date sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.BlindSession) error
	GetSession(ctx context.Context, id primitive.ObjectID) (*models.BlindSession, error)
	// FindLiveSession returns the active or extended session user is party to.
	FindLiveSession(ctx context.Context, user primitive.ObjectID) (*models.BlindSession, error)
	// AppendSessionMessage is conditional on the session being live and not
	// expired at msg.CreatedAt.
	AppendSessionMessage(ctx context.Context, id primitive.ObjectID, msg models.BlindMessage) (*models.BlindSession, error)
	// SetSessionChoice is conditional on the prior choice and the choice window:
	// the session is active, or ended as expired no longer than Grace ago.
	SetSessionChoice(ctx context.Context, id primitive.ObjectID, u ChoiceUpdate) (*models.BlindSession, error)
	// ConnectSession marks the mutual-chat transition, conditional on both
	// choices being chat, connectedAt being unset and the session not having
	// ended for any reason other than expiry. An active session becomes
	// extended; an expired one keeps status ended.
	ConnectSession(ctx context.Context, id primitive.ObjectID, now time.Time) (*models.BlindSession, error)
	// EndSession is conditional on the status being in from.
	EndSession(ctx context.Context, id primitive.ObjectID, from []models.SessionStatus, reason models.EndReason, now time.Time) (*models.BlindSession, error)
	EndExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	ListStaleSessions(ctx context.Context, cutoff time.Time) ([]models.BlindSession, error)
	// EndStaleSession is conditional on the session being live with
	// lastActivity before cutoff.
	EndStaleSession(ctx context.Context, id primitive.ObjectID, cutoff, now time.Time) (*models.BlindSession, error)
}

// QueueStore persists blind-date queue entries. user is unique.
type QueueStore interface {
	CreateQueueEntry(ctx context.Context, e *models.QueueEntry) error
	GetQueueEntry(ctx context.Context, user primitive.ObjectID) (*models.QueueEntry, error)
	// ListQueueCandidates returns entries of users other than exclude whose
	// gender is in genders (any when nil), oldest first.
	ListQueueCandidates(ctx context.Context, exclude primitive.ObjectID, genders []models.Gender) ([]models.QueueEntry, error)
	// ClaimQueueEntry deletes the entry and reports whether this call removed it.
	ClaimQueueEntry(ctx context.Context, user primitive.ObjectID) (bool, error)
	DeleteQueueEntry(ctx context.Context, user primitive.ObjectID) error
	DeleteStaleQueueEntries(ctx context.Context, cutoff time.Time) (int64, error)
}

// TransactionStore persists payment transactions. orderId is unique.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx *models.Transaction) error
	GetTransactionByOrder(ctx context.Context, orderID string) (*models.Transaction, error)
	// CompleteTransaction is conditional on the transaction being pending.
	CompleteTransaction(ctx context.Context, orderID, paymentID, signature string, now time.Time) (*models.Transaction, error)
	// FailTransaction is conditional on the transaction being pending.
	FailTransaction(ctx context.Context, orderID string, now time.Time) (*models.Transaction, error)
	ListTransactions(ctx context.Context, user primitive.ObjectID) ([]models.Transaction, error)
}

// NotificationPage is one page of a user's notification history.
type NotificationPage struct {
	Items  []models.Notification
	Total  int64
	Unread int64
}

// NotificationStore persists notification history.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, user primitive.ObjectID, page, limit int) (*NotificationPage, error)
	MarkNotificationRead(ctx context.Context, id, user primitive.ObjectID) error
	MarkAllNotificationsRead(ctx context.Context, user primitive.ObjectID) (int64, error)
}

// PushStore persists web-push subscriptions, one per user.
type PushStore interface {
	SavePushSubscription(ctx context.Context, sub *models.PushSubscription) error
	GetPushSubscription(ctx context.Context, user primitive.ObjectID) (*models.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, user primitive.ObjectID) error
}

// MessageStore persists permanent chat messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *models.Message) error
	// ListConversation returns the messages exchanged between a and b in
	// either direction, oldest first.
	ListConversation(ctx context.Context, a, b primitive.ObjectID) ([]models.Message, error)
	// MarkConversationRead flags every unread message from sender to receiver.
	MarkConversationRead(ctx context.Context, sender, receiver primitive.ObjectID, now time.Time) (int64, error)
	DeleteConversation(ctx context.Context, a, b primitive.ObjectID) (int64, error)
}

// ActivityStore persists the audit trail.
type ActivityStore interface {
	CreateActivity(ctx context.Context, a *models.ActivityLog) error
	ListActivity(ctx context.Context, user primitive.ObjectID, limit int) ([]models.ActivityLog, error)
}

// Store bundles every collection.
type Store interface {
	UserStore
	LikeStore
	SessionStore
	QueueStore
	TransactionStore
	MessageStore
	NotificationStore
	PushStore
	ActivityStore
}

// ChoiceWindowOpen reports whether s accepts post-timer choices at now.
func ChoiceWindowOpen(s *models.BlindSession, now time.Time, grace time.Duration) bool {
	switch s.Status {
	case models.SessionActive:
		return true
	case models.SessionEnded:
		return s.EndReason == models.EndExpired && !now.After(s.ExpiresAt.Add(grace))
	}
	return false
}
