package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"campusconnect/activity"
	"campusconnect/apperrors"
	"campusconnect/models"
	"campusconnect/rewards"
	"campusconnect/store/memstore"
	"campusconnect/ttlcache"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

type captureSender struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (c *captureSender) SendOTP(_ context.Context, phone, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if c.codes == nil {
		c.codes = map[string]string{}
	}
	c.codes[phone] = code
	return nil
}

func (c *captureSender) last(phone string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[phone]
}

type fixture struct {
	svc    *Service
	store  *memstore.Store
	sender *captureSender
	redis  *miniredis.Miniredis
	tokens *Tokens
}

func setup(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := memstore.New()
	sender := &captureSender{}
	tokens := NewTokens("test-secret", 30*24*time.Hour)
	logger := activity.NewStoreLogger(s)
	svc := NewService(s, ttlcache.New(client, "test"), sender, tokens, logger).
		WithClock(func() time.Time { return testNow }).
		WithReferrer(rewards.NewService(s, logger))
	return &fixture{svc: svc, store: s, sender: sender, redis: mr, tokens: tokens}
}

func TestNormalizePhone(t *testing.T) {
	phone, err := NormalizePhone(" +91 98765-43210 ")
	require.NoError(t, err)
	assert.Equal(t, "+919876543210", phone)

	for _, bad := range []string{"", "12345", "+91abc4567890", "1234567890123456"} {
		_, err := NormalizePhone(bad)
		assert.ErrorIs(t, err, apperrors.ErrValidation, bad)
	}
}

func TestSendOTPStoresHashWithTTL(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	res, err := f.svc.SendOTP(ctx, "+919876543210")
	require.NoError(t, err)
	assert.Empty(t, res.Code)
	assert.Equal(t, 300, res.ExpiresIn)

	code := f.sender.last("+919876543210")
	require.Len(t, code, OTPLength)

	stored, err := f.redis.Get("test:otp:+919876543210")
	require.NoError(t, err)
	assert.NotEqual(t, code, stored)
	assert.Equal(t, OTPTTL, f.redis.TTL("test:otp:+919876543210"))
}

func TestSendOTPEcho(t *testing.T) {
	f := setup(t)
	res, err := f.svc.WithEcho(true).SendOTP(context.Background(), "+919876543210")
	require.NoError(t, err)
	assert.Equal(t, f.sender.last("+919876543210"), res.Code)
}

func TestSendOTPSenderFailure(t *testing.T) {
	f := setup(t)
	f.sender.err = errors.New("sms down")

	_, err := f.svc.SendOTP(context.Background(), "+919876543210")
	require.Error(t, err)
	assert.False(t, f.redis.Exists("test:otp:+919876543210"))
}

func TestVerifyOTPRegistersNewUser(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	_, err := f.svc.SendOTP(ctx, "+919876543210")
	require.NoError(t, err)

	sess, err := f.svc.VerifyOTP(ctx, "+91 9876543210", f.sender.last("+919876543210"), "")
	require.NoError(t, err)
	assert.True(t, sess.IsNewUser)
	assert.Equal(t, StartingCoins, sess.User.Coins)
	assert.Equal(t, StartingLikes, sess.User.Likes)
	assert.Equal(t, StartingChatSlots, sess.User.ChatSlots)
	assert.Equal(t, testNow.Add(30*24*time.Hour), sess.ExpiresAt)

	id, err := f.tokens.Parse(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, id)

	// codes are single use
	_, err = f.svc.VerifyOTP(ctx, "+919876543210", f.sender.last("+919876543210"), "")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestVerifyOTPExistingUser(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	existing := &models.User{PhoneNumber: "+919876543210", Coins: 42}
	require.NoError(t, f.store.CreateUser(ctx, existing))

	_, err := f.svc.SendOTP(ctx, "+919876543210")
	require.NoError(t, err)
	sess, err := f.svc.VerifyOTP(ctx, "+919876543210", f.sender.last("+919876543210"), "IGNORED")
	require.NoError(t, err)
	assert.False(t, sess.IsNewUser)
	assert.Equal(t, existing.ID, sess.User.ID)
	assert.Equal(t, 42, sess.User.Coins)
}

func TestVerifyOTPWrongCodeBurnsIt(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	_, err := f.svc.SendOTP(ctx, "+919876543210")
	require.NoError(t, err)
	code := f.sender.last("+919876543210")
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	_, err = f.svc.VerifyOTP(ctx, "+919876543210", wrong, "")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	_, err = f.svc.VerifyOTP(ctx, "+919876543210", code, "")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestVerifyOTPExpired(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	_, err := f.svc.SendOTP(ctx, "+919876543210")
	require.NoError(t, err)
	f.redis.FastForward(OTPTTL + time.Second)

	_, err = f.svc.VerifyOTP(ctx, "+919876543210", f.sender.last("+919876543210"), "")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestVerifyOTPAppliesReferral(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	referrer := &models.User{PhoneNumber: "+910000000000", Coins: 150, ReferralCode: "REFER12345"}
	require.NoError(t, f.store.CreateUser(ctx, referrer))

	_, err := f.svc.SendOTP(ctx, "+919876543210")
	require.NoError(t, err)
	sess, err := f.svc.VerifyOTP(ctx, "+919876543210", f.sender.last("+919876543210"), "refer12345")
	require.NoError(t, err)
	assert.Empty(t, sess.ReferralError)
	assert.Equal(t, StartingCoins+rewards.ReferralReward, sess.User.Coins)

	got, err := f.store.GetUser(ctx, referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, 150+rewards.ReferralReward, got.Coins)
}

func TestVerifyOTPBadReferralStillSignsIn(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	_, err := f.svc.SendOTP(ctx, "+919876543210")
	require.NoError(t, err)

	sess, err := f.svc.VerifyOTP(ctx, "+919876543210", f.sender.last("+919876543210"), "NOSUCHCODE")
	require.NoError(t, err)
	assert.True(t, sess.IsNewUser)
	assert.Equal(t, "Invalid referral code", sess.ReferralError)
	assert.Equal(t, StartingCoins, sess.User.Coins)
}

func TestTokens(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	f := setup(t)
	u := &models.User{PhoneNumber: "+910000000001"}
	require.NoError(t, f.store.CreateUser(context.Background(), u))

	raw, _, err := tokens.Issue(u.ID, time.Now())
	require.NoError(t, err)
	id, err := tokens.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)

	_, err = NewTokens("other", time.Hour).Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, _, err := tokens.Issue(u.ID, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = tokens.Parse(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.Parse("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
