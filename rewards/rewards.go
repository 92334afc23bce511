// Package rewards grants free coins: the daily reward, one-off bonuses for
// completing a dating profile and for a first conversation, and referrals.
package rewards

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
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
	DailyReward     = 20
	ProfileReward   = 50
	FirstChatReward = 30
	ReferralReward  = 100

	DailyInterval = 24 * time.Hour

	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 6
	codeAttempts = 5
)

type Service struct {
	store    store.UserStore
	activity activity.Logger
	now      func() time.Time
}

func NewService(s store.UserStore, logger activity.Logger) *Service {
	return &Service{store: s, activity: logger, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
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

// DailyResult is returned by a successful daily claim.
type DailyResult struct {
	Reward      int       `json:"reward"`
	NewBalance  int       `json:"newBalance"`
	NextClaimAt time.Time `json:"nextClaimAt"`
	Message     string    `json:"message"`
}

// ClaimDaily credits the daily reward once per DailyInterval.
func (s *Service) ClaimDaily(ctx context.Context, userID primitive.ObjectID) (*DailyResult, error) {
	now := s.now()
	u, err := s.store.ClaimDailyReward(ctx, userID, DailyReward, now.Add(-DailyInterval), now)
	if errors.Is(err, store.ErrNoMatch) {
		current, err := s.getUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		next := now
		if current.LastDailyReward != nil {
			next = current.LastDailyReward.Add(DailyInterval)
		}
		return nil, apperrors.New(apperrors.KindAlreadyClaimed, "Daily reward already claimed").
			WithDetail("nextClaimAt", next).
			WithDetail("hoursRemaining", hoursUntil(now, next))
	}
	if err != nil {
		return nil, fmt.Errorf("claim daily reward: %w", err)
	}

	metrics.RecordCredit("daily_reward", DailyReward)
	s.activity.Log(ctx, userID, activity.ActionDailyReward, map[string]interface{}{
		"amount":     DailyReward,
		"newBalance": u.Coins,
	})
	return &DailyResult{
		Reward:      DailyReward,
		NewBalance:  u.Coins,
		NextClaimAt: now.Add(DailyInterval),
		Message:     fmt.Sprintf("You received %d coins!", DailyReward),
	}, nil
}

func hoursUntil(now, t time.Time) int {
	if !t.After(now) {
		return 0
	}
	return int(math.Ceil(t.Sub(now).Hours()))
}

// ClaimProfileBonus credits the profile bonus the first time it is called for
// a user with a complete dating profile. It reports whether coins were granted.
func (s *Service) ClaimProfileBonus(ctx context.Context, userID primitive.ObjectID) (bool, error) {
	u, err := s.getUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if !u.DatingProfileComplete || u.ProfileRewardClaimed {
		return false, nil
	}
	return s.claimOnce(ctx, userID, store.RewardProfile, ProfileReward, activity.ActionProfileReward)
}

// FirstChatBonus credits the first-conversation bonus once. Failures are only
// logged.
func (s *Service) FirstChatBonus(ctx context.Context, userID primitive.ObjectID) {
	if _, err := s.claimOnce(ctx, userID, store.RewardFirstChat, FirstChatReward, activity.ActionFirstChatReward); err != nil {
		logrus.WithError(err).WithField("userId", userID.Hex()).Warn("[Rewards] first chat bonus failed")
	}
}

func (s *Service) claimOnce(ctx context.Context, userID primitive.ObjectID, flag store.RewardFlag, amount int, action string) (bool, error) {
	u, err := s.store.ClaimOnce(ctx, userID, flag, amount)
	if errors.Is(err, store.ErrNoMatch) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", flag, err)
	}

	metrics.RecordCredit(string(flag), amount)
	s.activity.Log(ctx, userID, action, map[string]interface{}{
		"amount":     amount,
		"newBalance": u.Coins,
	})
	logrus.WithFields(logrus.Fields{
		"userId": userID.Hex(),
		"reward": flag,
	}).Info("[Rewards] bonus granted")
	return true, nil
}

// ApplyReferral links newUser to the owner of code and credits both. An empty
// code is a no-op. Codes match case-insensitively.
func (s *Service) ApplyReferral(ctx context.Context, newUser primitive.ObjectID, code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil
	}

	referrer, err := s.store.GetUserByReferralCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return apperrors.Validation("Invalid referral code")
	}
	if err != nil {
		return fmt.Errorf("find referrer: %w", err)
	}
	if referrer.ID == newUser {
		return apperrors.Validation("Cannot use your own referral code")
	}

	if err := s.store.SetReferredBy(ctx, newUser, referrer.ID); errors.Is(err, store.ErrNoMatch) {
		return apperrors.New(apperrors.KindAlreadyClaimed, "A referral code was already applied")
	} else if err != nil {
		return fmt.Errorf("set referrer: %w", err)
	}

	if _, err := s.store.Grant(ctx, newUser, store.Grant{Coins: ReferralReward}); err != nil {
		return fmt.Errorf("credit referee: %w", err)
	}
	if _, err := s.store.Grant(ctx, referrer.ID, store.Grant{Coins: ReferralReward}); err != nil {
		return fmt.Errorf("credit referrer: %w", err)
	}

	metrics.RecordCredit("referral", 2*ReferralReward)
	s.activity.Log(ctx, newUser, activity.ActionReferralReceived, map[string]interface{}{
		"referrerId": referrer.ID.Hex(),
		"amount":     ReferralReward,
	})
	s.activity.Log(ctx, referrer.ID, activity.ActionReferralGranted, map[string]interface{}{
		"refereeId": newUser.Hex(),
		"amount":    ReferralReward,
	})
	return nil
}

type DailyStatus struct {
	Available      bool       `json:"available"`
	HoursRemaining int        `json:"hoursRemaining"`
	NextClaimAt    *time.Time `json:"nextClaimAt,omitempty"`
	Amount         int        `json:"amount"`
}

type OnceStatus struct {
	Claimed bool `json:"claimed"`
	Amount  int  `json:"amount"`
}

type ReferralStatus struct {
	Code   string `json:"code"`
	Amount int    `json:"amount"`
}

// Status summarises every reward for a user.
type Status struct {
	Daily           DailyStatus    `json:"daily"`
	ProfileComplete OnceStatus     `json:"profileComplete"`
	FirstChat       OnceStatus     `json:"firstChat"`
	Referral        ReferralStatus `json:"referral"`
}

// Status reports reward availability and assigns a referral code on first use.
func (s *Service) Status(ctx context.Context, userID primitive.ObjectID) (*Status, error) {
	u, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	code, err := s.ensureReferralCode(ctx, u)
	if err != nil {
		return nil, err
	}

	now := s.now()
	daily := DailyStatus{Available: true, Amount: DailyReward}
	if u.LastDailyReward != nil {
		next := u.LastDailyReward.Add(DailyInterval)
		if next.After(now) {
			daily.Available = false
			daily.HoursRemaining = hoursUntil(now, next)
			daily.NextClaimAt = &next
		}
	}

	return &Status{
		Daily:           daily,
		ProfileComplete: OnceStatus{Claimed: u.ProfileRewardClaimed, Amount: ProfileReward},
		FirstChat:       OnceStatus{Claimed: u.FirstChatRewardClaimed, Amount: FirstChatReward},
		Referral:        ReferralStatus{Code: code, Amount: ReferralReward},
	}, nil
}

func (s *Service) ensureReferralCode(ctx context.Context, u *models.User) (string, error) {
	if u.ReferralCode != "" {
		return u.ReferralCode, nil
	}
	for i := 0; i < codeAttempts; i++ {
		code, err := newReferralCode(u.ID)
		if err != nil {
			return "", err
		}
		updated, err := s.store.SetReferralCode(ctx, u.ID, code)
		switch {
		case err == nil:
			return updated.ReferralCode, nil
		case errors.Is(err, store.ErrDuplicate):
			continue
		case errors.Is(err, store.ErrNoMatch):
			// set concurrently
			current, err := s.getUser(ctx, u.ID)
			if err != nil {
				return "", err
			}
			return current.ReferralCode, nil
		default:
			return "", fmt.Errorf("set referral code: %w", err)
		}
	}
	return "", fmt.Errorf("referral code: no free code after %d attempts", codeAttempts)
}

// newReferralCode is six random unambiguous characters followed by the last
// four characters of the user id.
func newReferralCode(id primitive.ObjectID) (string, error) {
	var b strings.Builder
	size := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("generate referral code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	hex := id.Hex()
	b.WriteString(strings.ToUpper(hex[len(hex)-4:]))
	return b.String(), nil
}
