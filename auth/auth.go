// Package auth signs users in with a one-time code sent to their phone and
// issues session tokens. New phone numbers are registered on first sign-in.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"campusconnect/activity"
	"campusconnect/apperrors"
	"campusconnect/models"
	"campusconnect/store"
	"campusconnect/ttlcache"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

const (
	OTPLength = 6
	OTPTTL    = 5 * time.Minute

	StartingCoins     = 150
	StartingChatSlots = 1
	StartingLikes     = 10
)

// OTPSender delivers a code to a phone number.
type OTPSender interface {
	SendOTP(ctx context.Context, phone, code string) error
}

// LogSender writes codes to the process log instead of sending them.
type LogSender struct{}

func (LogSender) SendOTP(_ context.Context, phone, code string) error {
	logrus.WithField("phone", phone).Infof("[Auth] OTP %s", code)
	return nil
}

// Referrer applies a referral code to a freshly registered user.
type Referrer interface {
	ApplyReferral(ctx context.Context, newUser primitive.ObjectID, code string) error
}

type Service struct {
	users    store.UserStore
	codes    ttlcache.Cache
	sender   OTPSender
	tokens   *Tokens
	referrer Referrer
	activity activity.Logger
	echo     bool
	now      func() time.Time
}

func NewService(users store.UserStore, codes ttlcache.Cache, sender OTPSender, tokens *Tokens, logger activity.Logger) *Service {
	return &Service{users: users, codes: codes, sender: sender, tokens: tokens, activity: logger, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithReferrer(r Referrer) *Service {
	s.referrer = r
	return s
}

// WithEcho makes SendOTP return the code it issued.
func (s *Service) WithEcho(echo bool) *Service {
	s.echo = echo
	return s
}

func otpKey(phone string) string {
	return "otp:" + phone
}

// NormalizePhone strips spaces and dashes and checks what remains is an
// optional leading + and 10 to 15 digits.
func NormalizePhone(raw string) (string, error) {
	phone := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(raw))
	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < 10 || len(digits) > 15 {
		return "", apperrors.Validation("Invalid phone number")
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", apperrors.Validation("Phone number must contain only digits")
		}
	}
	return phone, nil
}

// OTPResult acknowledges a sent code. Code is set only in echo mode.
type OTPResult struct {
	ExpiresIn int    `json:"expiresIn"`
	Message   string `json:"message"`
	Code      string `json:"otp,omitempty"`
}

// SendOTP issues a fresh code for phone, replacing any earlier one.
func (s *Service) SendOTP(ctx context.Context, rawPhone string) (*OTPResult, error) {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return nil, err
	}

	code, err := newOTP()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash otp: %w", err)
	}
	if err := s.codes.Set(ctx, otpKey(phone), hash, OTPTTL); err != nil {
		return nil, fmt.Errorf("store otp: %w", err)
	}
	if err := s.sender.SendOTP(ctx, phone, code); err != nil {
		_ = s.codes.Delete(ctx, otpKey(phone))
		return nil, fmt.Errorf("send otp: %w", err)
	}

	res := &OTPResult{ExpiresIn: int(OTPTTL.Seconds()), Message: "OTP sent successfully"}
	if s.echo {
		res.Code = code
	}
	return res, nil
}

func newOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", OTPLength, n.Int64()), nil
}

// Session is a signed-in user.
type Session struct {
	Token         string       `json:"token"`
	ExpiresAt     time.Time    `json:"expiresAt"`
	IsNewUser     bool         `json:"isNewUser"`
	User          *models.User `json:"user"`
	ReferralError string       `json:"referralError,omitempty"`
}

// VerifyOTP consumes the code for phone and signs the user in, registering
// them on first use. referralCode is only considered for new users.
func (s *Service) VerifyOTP(ctx context.Context, rawPhone, code, referralCode string) (*Session, error) {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, apperrors.Validation("Phone number and OTP are required")
	}

	// a code is good for one attempt, right or wrong
	hash, err := s.codes.Take(ctx, otpKey(phone))
	if errors.Is(err, ttlcache.ErrMiss) {
		return nil, apperrors.New(apperrors.KindUnauthorized, "OTP expired or not requested")
	}
	if err != nil {
		return nil, fmt.Errorf("load otp: %w", err)
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(code)) != nil {
		return nil, apperrors.New(apperrors.KindUnauthorized, "Invalid OTP")
	}

	now := s.now()
	u, isNew, err := s.findOrRegister(ctx, phone, now)
	if err != nil {
		return nil, err
	}

	session := &Session{IsNewUser: isNew}
	if isNew {
		s.activity.Log(ctx, u.ID, activity.ActionRegister, map[string]interface{}{"phone": phone})
		if referralCode != "" && s.referrer != nil {
			if err := s.referrer.ApplyReferral(ctx, u.ID, referralCode); err != nil {
				if appErr, ok := apperrors.As(err); ok {
					session.ReferralError = appErr.Message
				} else {
					logrus.WithError(err).WithField("userId", u.ID.Hex()).Error("[Auth] referral failed")
					session.ReferralError = "Failed to apply referral"
				}
			} else if refreshed, err := s.users.GetUser(ctx, u.ID); err == nil {
				u = refreshed
			}
		}
	} else {
		s.activity.Log(ctx, u.ID, activity.ActionLogin, nil)
	}
	if err := s.users.TouchUser(ctx, u.ID, now); err != nil {
		logrus.WithError(err).WithField("userId", u.ID.Hex()).Warn("[Auth] failed to update last active")
	}

	token, expires, err := s.tokens.Issue(u.ID, now)
	if err != nil {
		return nil, err
	}
	session.Token = token
	session.ExpiresAt = expires
	session.User = u
	return session, nil
}

func (s *Service) findOrRegister(ctx context.Context, phone string, now time.Time) (*models.User, bool, error) {
	u, err := s.users.GetUserByPhone(ctx, phone)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("find user: %w", err)
	}

	id := primitive.NewObjectID()
	u = &models.User{
		ID:                id,
		PhoneNumber:       phone,
		Username:          "user_" + id.Hex()[16:],
		Coins:             StartingCoins,
		Likes:             StartingLikes,
		LastLikeRegenTime: now,
		ChatSlots:         StartingChatSlots,
		DatingInterests:   []string{},
		DatingIntentions:  []string{},
		DatingPhotos:      []string{},
		LastActive:        now,
		CreatedAt:         now,
	}
	err = s.users.CreateUser(ctx, u)
	if errors.Is(err, store.ErrDuplicate) {
		// registered concurrently
		u, err = s.users.GetUserByPhone(ctx, phone)
		if err != nil {
			return nil, false, fmt.Errorf("find user: %w", err)
		}
		return u, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}

	logrus.WithField("userId", u.ID.Hex()).Info("[Auth] user registered")
	return u, true, nil
}
