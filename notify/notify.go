// Package notify delivers user notifications: history, realtime websocket
// events and web push. Delivery is fire-and-forget.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"campusconnect/apperrors"
	"campusconnect/models"
	"campusconnect/store"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message is a user-facing notification.
type Message struct {
	Title string
	Body  string
	Data  map[string]string
	Type  models.NotificationType
}

// Notifier is what the dating services depend on.
type Notifier interface {
	// Notify records msg in the user's history and pushes it. It never blocks
	// on delivery.
	Notify(ctx context.Context, userID primitive.ObjectID, msg Message)
	// Publish sends a realtime event to the user's open websocket connections.
	Publish(userID primitive.ObjectID, event string, payload interface{})
}

// Hub delivers realtime events to connected users.
type Hub interface {
	SendToUser(userID string, event string, payload interface{}) bool
}

// Pusher sends an encrypted web-push payload.
type Pusher interface {
	Send(ctx context.Context, sub *webpush.Subscription, payload []byte) (*http.Response, error)
}

// WebPusher sends through webpush-go with VAPID credentials.
type WebPusher struct {
	PublicKey  string
	PrivateKey string
	Subscriber string
}

func (p *WebPusher) Send(ctx context.Context, sub *webpush.Subscription, payload []byte) (*http.Response, error) {
	return webpush.SendNotificationWithContext(ctx, payload, sub, &webpush.Options{
		Subscriber:      p.Subscriber,
		VAPIDPublicKey:  p.PublicKey,
		VAPIDPrivateKey: p.PrivateKey,
		TTL:             30,
	})
}

// Store is the persistence the notifier needs.
type Store interface {
	store.NotificationStore
	store.PushStore
}

type Service struct {
	store          Store
	hub            Hub
	pusher         Pusher
	vapidPublicKey string
	now            func() time.Time
	wg             sync.WaitGroup
}

var _ Notifier = (*Service)(nil)

// NewService builds a notifier. hub and pusher may be nil.
func NewService(s Store, hub Hub, pusher Pusher, vapidPublicKey string) *Service {
	return &Service{
		store:          s,
		hub:            hub,
		pusher:         pusher,
		vapidPublicKey: vapidPublicKey,
		now:            time.Now,
	}
}

func (s *Service) Notify(_ context.Context, userID primitive.ObjectID, msg Message) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logrus.WithField("panic", r).Error("[Notify] panic in notification delivery")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.deliver(ctx, userID, msg)
	}()
}

func (s *Service) deliver(ctx context.Context, userID primitive.ObjectID, msg Message) {
	log := logrus.WithFields(logrus.Fields{"userId": userID.Hex(), "type": msg.Type})

	notif := &models.Notification{
		UserID:    userID,
		Title:     msg.Title,
		Body:      msg.Body,
		Data:      msg.Data,
		Type:      msg.Type,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateNotification(ctx, notif); err != nil {
		log.WithError(err).Warn("[Notify] failed to save notification")
	}

	if s.hub != nil {
		s.hub.SendToUser(userID.Hex(), "notification", notif)
	}

	if s.pusher != nil {
		s.push(ctx, userID, msg)
	}
}

func (s *Service) push(ctx context.Context, userID primitive.ObjectID, msg Message) {
	log := logrus.WithField("userId", userID.Hex())

	sub, err := s.store.GetPushSubscription(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		log.Debug("[Notify] no push subscription")
		return
	}
	if err != nil {
		log.WithError(err).Warn("[Notify] failed to find subscription")
		return
	}

	data := map[string]interface{}{"timestamp": s.now().Unix()}
	for k, v := range msg.Data {
		data[k] = v
	}
	payload, err := json.Marshal(map[string]interface{}{
		"title": msg.Title,
		"body":  msg.Body,
		"data":  data,
	})
	if err != nil {
		log.WithError(err).Warn("[Notify] failed to marshal push payload")
		return
	}

	resp, err := s.pusher.Send(ctx, &sub.Sub, payload)
	if resp != nil {
		defer resp.Body.Close()
	}
	if resp != nil && resp.StatusCode == http.StatusGone {
		log.Info("[Notify] push subscription expired, deleting")
		if delErr := s.store.DeletePushSubscription(ctx, userID); delErr != nil {
			log.WithError(delErr).Warn("[Notify] failed to delete expired subscription")
		}
		return
	}
	if err != nil {
		log.WithError(err).Warn("[Notify] failed to send push notification")
		return
	}
	log.Debug("[Notify] push notification sent")
}

func (s *Service) Publish(userID primitive.ObjectID, event string, payload interface{}) {
	if s.hub == nil {
		return
	}
	s.hub.SendToUser(userID.Hex(), event, payload)
}

// Wait blocks until in-flight deliveries finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) VapidPublicKey() string {
	return s.vapidPublicKey
}

// Subscribe stores the user's web-push subscription, replacing any previous one.
func (s *Service) Subscribe(ctx context.Context, userID primitive.ObjectID, sub webpush.Subscription) error {
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return apperrors.Validation("endpoint and keys are required")
	}
	if err := s.store.SavePushSubscription(ctx, &models.PushSubscription{UserID: userID, Sub: sub}); err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

// History is one page of notifications.
type History struct {
	Notifications []models.Notification `json:"notifications"`
	Total         int64                 `json:"total"`
	Unread        int64                 `json:"unreadCount"`
	Page          int                   `json:"page"`
	Pages         int64                 `json:"pages"`
}

func (s *Service) History(ctx context.Context, userID primitive.ObjectID, page, limit int) (*History, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	p, err := s.store.ListNotifications(ctx, userID, page, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	pages := (p.Total + int64(limit) - 1) / int64(limit)
	return &History{Notifications: p.Items, Total: p.Total, Unread: p.Unread, Page: page, Pages: pages}, nil
}

func (s *Service) MarkRead(ctx context.Context, userID, id primitive.ObjectID) error {
	err := s.store.MarkNotificationRead(ctx, id, userID)
	if errors.Is(err, store.ErrNotFound) {
		return apperrors.NotFound("notification")
	}
	return err
}

func (s *Service) MarkAllRead(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	return s.store.MarkAllNotificationsRead(ctx, userID)
}
