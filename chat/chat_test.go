package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"campusconnect/activity"
	"campusconnect/apperrors"
	"campusconnect/ledger"
	"campusconnect/likes"
	"campusconnect/models"
	"campusconnect/notify"
	"campusconnect/rewards"
	"campusconnect/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var testNow = time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	store    *memstore.Store
	notifier *notify.Recorder
	now      time.Time
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memstore.New(), notifier: &notify.Recorder{}, now: testNow}
	clock := func() time.Time { return f.now }
	logger := activity.NewStoreLogger(f.store)
	l := ledger.NewService(f.store, logger).WithClock(clock)
	likeSvc := likes.NewService(f.store, l, f.notifier, logger).WithClock(clock)
	f.svc = NewService(f.store, f.notifier, likeSvc, logger).
		WithClock(clock).
		WithRewarder(rewards.NewService(f.store, logger))
	return f
}

func (f *fixture) user(t *testing.T, name string) *models.User {
	t.Helper()
	u := &models.User{
		PhoneNumber:     primitive.NewObjectID().Hex(),
		FullName:        name,
		ChatSlots:       1,
		ActiveChatCount: 1,
	}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u
}

func (f *fixture) like(t *testing.T, a, b *models.User, status models.LikeStatus) *models.Like {
	t.Helper()
	l := &models.Like{Sender: a.ID, Receiver: b.ID, Status: status, CreatedAt: f.now, UpdatedAt: f.now}
	require.NoError(t, f.store.CreateLike(context.Background(), l))
	return l
}

func (f *fixture) reloadUser(t *testing.T, id primitive.ObjectID) *models.User {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}

func TestSendRequiresOpenChat(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.user(t, "Ada")
	b := f.user(t, "Ben")

	_, err := f.svc.Send(ctx, a.ID, b.ID, "hi")
	assert.ErrorIs(t, err, apperrors.ErrNotActive)

	f.like(t, a, b, models.LikeRevealed)
	_, err = f.svc.Send(ctx, b.ID, a.ID, "hi")
	assert.ErrorIs(t, err, apperrors.ErrNotActive)

	_, err = f.svc.Send(ctx, a.ID, a.ID, "me")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = f.svc.Send(ctx, a.ID, b.ID, "   ")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = f.svc.Send(ctx, a.ID, b.ID, strings.Repeat("x", MaxMessageLength+1))
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	msgs, err := f.store.ListConversation(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSendInEitherDirection(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.user(t, "Ada")
	b := f.user(t, "Ben")
	l := f.like(t, a, b, models.LikeChatting)

	msg, err := f.svc.Send(ctx, a.ID, b.ID, "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Text)
	assert.False(t, msg.Read)

	f.now = testNow.Add(time.Minute)
	_, err = f.svc.Send(ctx, b.ID, a.ID, strings.Repeat("y", 60))
	require.NoError(t, err)

	events := f.notifier.Events()
	require.Len(t, events, 2)
	assert.Equal(t, b.ID, events[0].UserID)
	assert.Equal(t, "new_message", events[0].Name)

	sent := f.notifier.SentTo(a.ID)
	require.Len(t, sent, 1)
	assert.Equal(t, models.NotifyChat, sent[0].Type)
	assert.Equal(t, "Ben: "+strings.Repeat("y", 50)+"...", sent[0].Body)
	assert.Equal(t, b.ID.Hex(), sent[0].Data["chatUserId"])
	assert.Equal(t, l.ID.Hex(), sent[0].Data["likeId"])

	msgs, err := f.svc.Messages(ctx, b.ID, a.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, a.ID, msgs[0].Sender)
	assert.Equal(t, b.ID, msgs[1].Sender)
}

func TestFirstMessageEarnsBonusOnce(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.user(t, "Ada")
	b := f.user(t, "Ben")
	f.like(t, b, a, models.LikeChatting)

	for i := 0; i < 3; i++ {
		_, err := f.svc.Send(ctx, a.ID, b.ID, "ping")
		require.NoError(t, err)
	}

	sender := f.reloadUser(t, a.ID)
	assert.True(t, sender.FirstChatRewardClaimed)
	assert.Equal(t, rewards.FirstChatReward, sender.Coins)
	assert.False(t, f.reloadUser(t, b.ID).FirstChatRewardClaimed)
}

func TestMarkRead(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.user(t, "Ada")
	b := f.user(t, "Ben")
	f.like(t, a, b, models.LikeChatting)

	for _, text := range []string{"one", "two"} {
		_, err := f.svc.Send(ctx, a.ID, b.ID, text)
		require.NoError(t, err)
	}
	_, err := f.svc.Send(ctx, b.ID, a.ID, "back")
	require.NoError(t, err)

	f.now = testNow.Add(time.Hour)
	n, err := f.svc.MarkRead(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	msgs, err := f.svc.Messages(ctx, a.ID, b.ID)
	require.NoError(t, err)
	for _, m := range msgs {
		if m.Sender == a.ID {
			assert.True(t, m.Read)
			require.NotNil(t, m.ReadAt)
			assert.Equal(t, f.now, *m.ReadAt)
		} else {
			assert.False(t, m.Read)
		}
	}

	n, err = f.svc.MarkRead(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	events := f.notifier.Events()
	last := events[len(events)-1]
	assert.Equal(t, "messages_read", last.Name)
	assert.Equal(t, a.ID, last.UserID)
}

func TestDeleteConversationFreesSlots(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.user(t, "Ada")
	b := f.user(t, "Ben")
	c := f.user(t, "Cas")
	l := f.like(t, a, b, models.LikeChatting)
	f.like(t, c, a, models.LikeChatting)

	_, err := f.svc.Send(ctx, a.ID, b.ID, "bye")
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, c.ID, a.ID, "stay")
	require.NoError(t, err)

	res, err := f.svc.DeleteConversation(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Deleted)
	assert.True(t, res.SlotFreed)

	stored, err := f.store.GetLike(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LikeArchived, stored.Status)
	assert.Equal(t, 0, f.reloadUser(t, a.ID).ActiveChatCount)
	assert.Equal(t, 0, f.reloadUser(t, b.ID).ActiveChatCount)

	msgs, err := f.svc.Messages(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	msgs, err = f.svc.Messages(ctx, a.ID, c.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	_, err = f.svc.Send(ctx, a.ID, b.ID, "again?")
	assert.ErrorIs(t, err, apperrors.ErrNotActive)

	res, err = f.svc.DeleteConversation(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Zero(t, res.Deleted)
	assert.False(t, res.SlotFreed)
}
