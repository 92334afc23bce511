package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"campusconnect/apperrors"
	"campusconnect/models"
	"campusconnect/store"
	"campusconnect/store/memstore"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeHub struct {
	mu     sync.Mutex
	events []string
}

func (h *fakeHub) SendToUser(userID, event string, _ interface{}) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, userID+":"+event)
	return true
}

type fakePusher struct {
	status   int
	payloads [][]byte
}

func (p *fakePusher) Send(_ context.Context, _ *webpush.Subscription, payload []byte) (*http.Response, error) {
	p.payloads = append(p.payloads, payload)
	return &http.Response{StatusCode: p.status, Body: io.NopCloser(strings.NewReader(""))}, nil
}

var testSub = webpush.Subscription{
	Endpoint: "https://push.example/abc",
	Keys:     webpush.Keys{P256dh: "p256", Auth: "auth"},
}

func TestNotifyStoresPublishesAndPushes(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	hub := &fakeHub{}
	pusher := &fakePusher{status: http.StatusCreated}
	svc := NewService(s, hub, pusher, "public")

	user := primitive.NewObjectID()
	require.NoError(t, svc.Subscribe(ctx, user, testSub))

	svc.Notify(ctx, user, Message{Title: "New Like! ❤️", Body: "Someone liked you", Type: models.NotifyLike, Data: map[string]string{"type": "like"}})
	svc.Wait()

	history, err := svc.History(ctx, user, 1, 20)
	require.NoError(t, err)
	require.Len(t, history.Notifications, 1)
	assert.Equal(t, models.NotifyLike, history.Notifications[0].Type)
	assert.EqualValues(t, 1, history.Unread)

	assert.Equal(t, []string{user.Hex() + ":notification"}, hub.events)

	require.Len(t, pusher.payloads, 1)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(pusher.payloads[0], &payload))
	assert.Equal(t, "New Like! ❤️", payload["title"])
	assert.Equal(t, "like", payload["data"].(map[string]interface{})["type"])
}

func TestNotifyDeletesExpiredSubscription(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	svc := NewService(s, nil, &fakePusher{status: http.StatusGone}, "")

	user := primitive.NewObjectID()
	require.NoError(t, svc.Subscribe(ctx, user, testSub))

	svc.Notify(ctx, user, Message{Title: "t", Type: models.NotifyBlind})
	svc.Wait()

	_, err := s.GetPushSubscription(ctx, user)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSubscribeValidates(t *testing.T) {
	svc := NewService(memstore.New(), nil, nil, "")
	err := svc.Subscribe(context.Background(), primitive.NewObjectID(), webpush.Subscription{})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestMarkRead(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	svc := NewService(s, nil, nil, "")
	user := primitive.NewObjectID()

	n := &models.Notification{UserID: user, Title: "a"}
	require.NoError(t, s.CreateNotification(ctx, n))
	require.NoError(t, s.CreateNotification(ctx, &models.Notification{UserID: user, Title: "b"}))

	require.NoError(t, svc.MarkRead(ctx, user, n.ID))
	assert.ErrorIs(t, svc.MarkRead(ctx, primitive.NewObjectID(), n.ID), apperrors.ErrNotFound)

	count, err := svc.MarkAllRead(ctx, user)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	a, b := primitive.NewObjectID(), primitive.NewObjectID()
	r.Notify(context.Background(), a, Message{Title: "x"})
	r.Publish(b, "blind_message", nil)

	assert.Len(t, r.SentTo(a), 1)
	assert.Empty(t, r.SentTo(b))
	assert.Equal(t, "blind_message", r.Events()[0].Name)
}
