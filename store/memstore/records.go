package memstore

import (
	"context"
	"sort"
	"time"

	"campusconnect/models"
	"campusconnect/store"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TransactionStore implementation ---------------------------------------------

func (s *Store) CreateTransaction(_ context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactions[tx.OrderID]; exists {
		return store.ErrDuplicate
	}
	if tx.ID.IsZero() {
		tx.ID = primitive.NewObjectID()
	}
	c := *tx
	s.transactions[tx.OrderID] = &c
	return nil
}

func (s *Store) GetTransactionByOrder(_ context.Context, orderID string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *tx
	return &c, nil
}

func (s *Store) settleTransaction(orderID string, fn func(tx *models.Transaction)) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[orderID]
	if !ok || tx.Status != models.TransactionPending {
		return nil, store.ErrNoMatch
	}
	next := *tx
	fn(&next)
	s.transactions[orderID] = &next
	c := next
	return &c, nil
}

func (s *Store) CompleteTransaction(_ context.Context, orderID, paymentID, signature string, now time.Time) (*models.Transaction, error) {
	return s.settleTransaction(orderID, func(tx *models.Transaction) {
		tx.Status = models.TransactionCompleted
		tx.PaymentID = paymentID
		tx.Signature = signature
		tx.UpdatedAt = now
	})
}

func (s *Store) FailTransaction(_ context.Context, orderID string, now time.Time) (*models.Transaction, error) {
	return s.settleTransaction(orderID, func(tx *models.Transaction) {
		tx.Status = models.TransactionFailed
		tx.UpdatedAt = now
	})
}

func (s *Store) ListTransactions(_ context.Context, user primitive.ObjectID) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Transaction
	for _, tx := range s.transactions {
		if tx.User == user {
			out = append(out, *tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// NotificationStore implementation --------------------------------------------

func (s *Store) CreateNotification(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID.IsZero() {
		n.ID = primitive.NewObjectID()
	}
	c := *n
	s.notifications[n.ID] = &c
	return nil
}

func (s *Store) ListNotifications(_ context.Context, user primitive.ObjectID, page, limit int) (*store.NotificationPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []models.Notification
	var unread int64
	for _, n := range s.notifications {
		if n.UserID != user {
			continue
		}
		all = append(all, *n)
		if !n.Read {
			unread++
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID.Hex() > all[j].ID.Hex()
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	result := &store.NotificationPage{Total: int64(len(all)), Unread: unread, Items: []models.Notification{}}
	start := (page - 1) * limit
	if start < 0 || start >= len(all) {
		return result, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	result.Items = all[start:end]
	return result, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id, user primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.UserID != user {
		return store.ErrNotFound
	}
	c := *n
	c.Read = true
	s.notifications[id] = &c
	return nil
}

func (s *Store) MarkAllNotificationsRead(_ context.Context, user primitive.ObjectID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, notif := range s.notifications {
		if notif.UserID == user && !notif.Read {
			c := *notif
			c.Read = true
			s.notifications[id] = &c
			n++
		}
	}
	return n, nil
}

// PushStore implementation ----------------------------------------------------

func (s *Store) SavePushSubscription(_ context.Context, sub *models.PushSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.pushSubs[sub.UserID]; ok {
		sub.ID = existing.ID
	} else if sub.ID.IsZero() {
		sub.ID = primitive.NewObjectID()
	}
	c := *sub
	s.pushSubs[sub.UserID] = &c
	return nil
}

func (s *Store) GetPushSubscription(_ context.Context, user primitive.ObjectID) (*models.PushSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.pushSubs[user]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *sub
	return &c, nil
}

func (s *Store) DeletePushSubscription(_ context.Context, user primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pushSubs, user)
	return nil
}

// MessageStore implementation -------------------------------------------------

func between(m *models.Message, a, b primitive.ObjectID) bool {
	return (m.Sender == a && m.Receiver == b) || (m.Sender == b && m.Receiver == a)
}

func (s *Store) CreateMessage(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	s.messages = append(s.messages, *m)
	return nil
}

func (s *Store) ListConversation(_ context.Context, a, b primitive.ObjectID) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Message{}
	for i := range s.messages {
		if between(&s.messages[i], a, b) {
			out = append(out, s.messages[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) MarkConversationRead(_ context.Context, sender, receiver primitive.ObjectID, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for i := range s.messages {
		m := &s.messages[i]
		if m.Sender != sender || m.Receiver != receiver || m.Read {
			continue
		}
		stamp := now
		m.Read = true
		m.ReadAt = &stamp
		n++
	}
	return n, nil
}

func (s *Store) DeleteConversation(_ context.Context, a, b primitive.ObjectID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.messages[:0]
	var n int64
	for _, m := range s.messages {
		if between(&m, a, b) {
			n++
			continue
		}
		kept = append(kept, m)
	}
	s.messages = kept
	return n, nil
}

// ActivityStore implementation ------------------------------------------------

func (s *Store) CreateActivity(_ context.Context, a *models.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID.IsZero() {
		a.ID = primitive.NewObjectID()
	}
	s.activity = append(s.activity, *a)
	return nil
}

func (s *Store) ListActivity(_ context.Context, user primitive.ObjectID, limit int) ([]models.ActivityLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ActivityLog
	for i := len(s.activity) - 1; i >= 0; i-- {
		if s.activity[i].UserID != user {
			continue
		}
		out = append(out, s.activity[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
