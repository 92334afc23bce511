package mongostore

import (
	"context"
	"os"
	"testing"
	"time"

	"campusconnect/models"
	"campusconnect/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// newTestStore connects to MONGODB_TEST_URI and returns a store on a throwaway
// database. Tests are skipped when the variable is unset.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)

	db := client.Database("campusconnect_test_" + primitive.NewObjectID().Hex())
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})

	s := New(db)
	require.NoError(t, s.EnsureIndexes(ctx))
	return s
}

func TestMongoLedgerConditions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	u := &models.User{PhoneNumber: "+15550001", Coins: 100, Likes: 2, ChatSlots: 1, LastLikeRegenTime: now.Add(-25 * time.Hour)}
	require.NoError(t, s.CreateUser(ctx, u))
	assert.ErrorIs(t, s.CreateUser(ctx, &models.User{PhoneNumber: "+15550001"}), store.ErrDuplicate)

	regen, err := s.RegenerateLikes(ctx, u.ID, 10, now.Add(-24*time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, 10, regen.Likes)

	_, err = s.DebitCoins(ctx, u.ID, 150, store.Grant{})
	assert.ErrorIs(t, err, store.ErrNoMatch)

	debited, err := s.DebitCoins(ctx, u.ID, 100, store.Grant{Likes: 5})
	require.NoError(t, err)
	assert.Equal(t, 0, debited.Coins)
	assert.Equal(t, 15, debited.Likes)

	_, err = s.ReserveChatSlot(ctx, u.ID)
	require.NoError(t, err)
	_, err = s.ReserveChatSlot(ctx, u.ID)
	assert.ErrorIs(t, err, store.ErrNoMatch)

	extended, err := s.ExtendUnlimited(ctx, u.ID, 24*time.Hour, now)
	require.NoError(t, err)
	require.NotNil(t, extended.UnlimitedCoinsExpiry)
	assert.True(t, extended.HasUnlimited(now))
}

func TestMongoLikeUpsertAndSessionChoice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	a, b := primitive.NewObjectID(), primitive.NewObjectID()

	require.NoError(t, s.CreateLike(ctx, &models.Like{Sender: a, Receiver: b, Status: models.LikeChatting, CreatedAt: now}))
	_, err := s.UpsertLike(ctx, a, b, store.LikeTransition{To: models.LikePassed, Now: now}, []models.LikeStatus{models.LikeChatting})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	sess := models.NewBlindSession(a, b, now)
	require.NoError(t, s.CreateSession(ctx, sess))

	prior := []models.Choice{models.ChoiceNone, models.ChoiceReveal}
	_, err = s.SetSessionChoice(ctx, sess.ID, store.ChoiceUpdate{Side: 1, Choice: models.ChoiceChat, Prior: prior, Now: now, Grace: time.Minute})
	require.NoError(t, err)
	updated, err := s.SetSessionChoice(ctx, sess.ID, store.ChoiceUpdate{Side: 2, Choice: models.ChoiceChat, Prior: prior, Now: now, Grace: time.Minute})
	require.NoError(t, err)
	assert.True(t, updated.BothChoseChat())

	connected, err := s.ConnectSession(ctx, sess.ID, now)
	require.NoError(t, err)
	assert.Equal(t, models.SessionExtended, connected.Status)
	_, err = s.ConnectSession(ctx, sess.ID, now)
	assert.ErrorIs(t, err, store.ErrNoMatch)

	expired := models.NewBlindSession(a, b, now)
	expired.User1Choice, expired.User2Choice = models.ChoiceChat, models.ChoiceChat
	expired.Status, expired.EndReason = models.SessionEnded, models.EndExpired
	require.NoError(t, s.CreateSession(ctx, expired))
	connected, err = s.ConnectSession(ctx, expired.ID, now)
	require.NoError(t, err)
	assert.Equal(t, models.SessionEnded, connected.Status)
	assert.Equal(t, models.EndExpired, connected.EndReason)
	assert.NotNil(t, connected.ConnectedAt)
}

func TestMongoConversationMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	a, b := primitive.NewObjectID(), primitive.NewObjectID()

	require.NoError(t, s.CreateMessage(ctx, &models.Message{Sender: b, Receiver: a, Text: "second", CreatedAt: now.Add(time.Second)}))
	require.NoError(t, s.CreateMessage(ctx, &models.Message{Sender: a, Receiver: b, Text: "first", CreatedAt: now}))

	msgs, err := s.ListConversation(ctx, a, b)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Text)

	n, err := s.MarkConversationRead(ctx, b, a, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.DeleteConversation(ctx, b, a)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
