package rewards

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"campusconnect/activity"
	"campusconnect/apperrors"
	"campusconnect/models"
	"campusconnect/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var testNow = time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	store *memstore.Store
	now   time.Time
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memstore.New(), now: testNow}
	f.svc = NewService(f.store, activity.NewStoreLogger(f.store)).WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) user(t *testing.T, mutate func(u *models.User)) *models.User {
	t.Helper()
	u := &models.User{PhoneNumber: primitive.NewObjectID().Hex(), Coins: 150}
	if mutate != nil {
		mutate(u)
	}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u
}

func (f *fixture) coins(t *testing.T, id primitive.ObjectID) int {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u.Coins
}

func TestClaimDailyOncePerDay(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	u := f.user(t, nil)

	res, err := f.svc.ClaimDaily(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, DailyReward, res.Reward)
	assert.Equal(t, 170, res.NewBalance)

	f.now = testNow.Add(20*time.Hour + 30*time.Minute)
	_, err = f.svc.ClaimDaily(ctx, u.ID)
	require.ErrorIs(t, err, apperrors.ErrAlreadyClaimed)
	appErr, _ := apperrors.As(err)
	assert.Equal(t, 4, appErr.Details["hoursRemaining"])
	assert.Equal(t, testNow.Add(DailyInterval), appErr.Details["nextClaimAt"])
	assert.Equal(t, 170, f.coins(t, u.ID))

	f.now = testNow.Add(DailyInterval)
	_, err = f.svc.ClaimDaily(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 190, f.coins(t, u.ID))
}

func TestClaimDailyConcurrentlyPaysOnce(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	u := f.user(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.ClaimDaily(ctx, u.ID)
		}()
	}
	wg.Wait()
	assert.Equal(t, 150+DailyReward, f.coins(t, u.ID))
}

func TestClaimDailyUnknownUser(t *testing.T) {
	f := setup(t)
	_, err := f.svc.ClaimDaily(context.Background(), primitive.NewObjectID())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestProfileBonus(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	incomplete := f.user(t, nil)
	complete := f.user(t, func(u *models.User) { u.DatingProfileComplete = true })

	granted, err := f.svc.ClaimProfileBonus(ctx, incomplete.ID)
	require.NoError(t, err)
	assert.False(t, granted)

	granted, err = f.svc.ClaimProfileBonus(ctx, complete.ID)
	require.NoError(t, err)
	assert.True(t, granted)
	granted, err = f.svc.ClaimProfileBonus(ctx, complete.ID)
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, 150+ProfileReward, f.coins(t, complete.ID))
}

func TestFirstChatBonusOnce(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	u := f.user(t, nil)

	f.svc.FirstChatBonus(ctx, u.ID)
	f.svc.FirstChatBonus(ctx, u.ID)
	assert.Equal(t, 150+FirstChatReward, f.coins(t, u.ID))

	acts, err := f.store.ListActivity(ctx, u.ID, 10)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, activity.ActionFirstChatReward, acts[0].Action)
}

func TestApplyReferral(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	referrer := f.user(t, func(u *models.User) { u.ReferralCode = "ABCDEF1234" })
	newbie := f.user(t, nil)

	require.NoError(t, f.svc.ApplyReferral(ctx, newbie.ID, " abcdef1234 "))
	assert.Equal(t, 250, f.coins(t, newbie.ID))
	assert.Equal(t, 250, f.coins(t, referrer.ID))

	err := f.svc.ApplyReferral(ctx, newbie.ID, "ABCDEF1234")
	assert.ErrorIs(t, err, apperrors.ErrAlreadyClaimed)
	assert.Equal(t, 250, f.coins(t, referrer.ID))

	assert.NoError(t, f.svc.ApplyReferral(ctx, newbie.ID, ""))
}

func TestApplyReferralRejectsBadCodes(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	owner := f.user(t, func(u *models.User) { u.ReferralCode = "ZZZZZZ0000" })

	err := f.svc.ApplyReferral(ctx, owner.ID, "zzzzzz0000")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	err = f.svc.ApplyReferral(ctx, owner.ID, "NOPE")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Equal(t, 150, f.coins(t, owner.ID))
}

func TestStatusAssignsReferralCode(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	u := f.user(t, nil)

	st, err := f.svc.Status(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, st.Daily.Available)
	require.Len(t, st.Referral.Code, codeLength+4)
	hex := u.ID.Hex()
	assert.True(t, strings.HasSuffix(st.Referral.Code, strings.ToUpper(hex[len(hex)-4:])))
	for _, r := range st.Referral.Code[:codeLength] {
		assert.Contains(t, codeAlphabet, string(r))
	}

	again, err := f.svc.Status(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, st.Referral.Code, again.Referral.Code)

	_, err = f.svc.ClaimDaily(ctx, u.ID)
	require.NoError(t, err)
	f.now = testNow.Add(time.Hour)
	st, err = f.svc.Status(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, st.Daily.Available)
	assert.Equal(t, 23, st.Daily.HoursRemaining)
}
