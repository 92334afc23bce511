// Package activity records an audit trail of economic and account events.
// Logging is best effort: failures are reported to the process log and never
// returned to the caller.
package activity

import (
	"context"
	"time"

	"campusconnect/models"
	"campusconnect/store"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	ActionCoinsDeducted = "COINS_DEDUCTED"
	ActionCoinsCredited = "COINS_CREDITED"
	ActionLikeSent      = "LIKE_SENT"
	ActionMatch         = "MATCH"
	ActionChatStarted   = "CHAT_STARTED"
	ActionUnmatch       = "UNMATCH"
	ActionConvDeleted   = "CONVERSATION_DELETED"
	ActionBlindChoice   = "BLIND_CHOICE"
	ActionPurchase      = "PURCHASE"
	ActionLogin         = "LOGIN"
	ActionRegister      = "REGISTER"

	ActionDailyReward      = "DAILY_REWARD_CLAIMED"
	ActionProfileReward    = "PROFILE_REWARD_CLAIMED"
	ActionFirstChatReward  = "FIRST_CHAT_REWARD_CLAIMED"
	ActionReferralReceived = "REFERRAL_BONUS_RECEIVED"
	ActionReferralGranted  = "REFERRAL_BONUS_GRANTED"
)

// Logger records an action for a user.
type Logger interface {
	Log(ctx context.Context, userID primitive.ObjectID, action string, details map[string]interface{})
}

type metaKey struct{}

type requestMeta struct {
	ip        string
	userAgent string
}

// WithRequestMeta attaches the caller's address and agent to ctx so that
// entries logged under it carry them.
func WithRequestMeta(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, metaKey{}, requestMeta{ip: ip, userAgent: userAgent})
}

// StoreLogger persists entries to the activity collection.
type StoreLogger struct {
	store store.ActivityStore
	now   func() time.Time
}

func NewStoreLogger(s store.ActivityStore) *StoreLogger {
	return &StoreLogger{store: s, now: time.Now}
}

func (l *StoreLogger) Log(ctx context.Context, userID primitive.ObjectID, action string, details map[string]interface{}) {
	entry := &models.ActivityLog{
		UserID:    userID,
		Action:    action,
		Details:   details,
		CreatedAt: l.now(),
	}
	if meta, ok := ctx.Value(metaKey{}).(requestMeta); ok {
		entry.IP = meta.ip
		entry.UserAgent = meta.userAgent
	}

	if err := l.store.CreateActivity(ctx, entry); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"userId": userID.Hex(),
			"action": action,
		}).Warn("[Activity] failed to record activity")
		return
	}
	logrus.WithFields(logrus.Fields{
		"userId": userID.Hex(),
		"action": action,
	}).Debug("[Activity] recorded")
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Log(context.Context, primitive.ObjectID, string, map[string]interface{}) {}
