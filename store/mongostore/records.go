package mongostore

import (
	"context"
	"time"

	"campusconnect/models"
	"campusconnect/store"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TransactionStore implementation ---------------------------------------------

func (s *Store) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	if tx.ID.IsZero() {
		tx.ID = primitive.NewObjectID()
	}
	_, err := s.transactions.InsertOne(ctx, tx)
	return translate(err)
}

func (s *Store) GetTransactionByOrder(ctx context.Context, orderID string) (*models.Transaction, error) {
	var tx models.Transaction
	if err := s.transactions.FindOne(ctx, bson.M{"orderId": orderID}).Decode(&tx); err != nil {
		return nil, translate(err)
	}
	return &tx, nil
}

func (s *Store) settleTransaction(ctx context.Context, orderID string, set bson.M) (*models.Transaction, error) {
	var tx models.Transaction
	err := findOneAndUpdate(ctx, s.transactions,
		bson.M{"orderId": orderID, "status": models.TransactionPending},
		bson.M{"$set": set},
		&tx, false)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) CompleteTransaction(ctx context.Context, orderID, paymentID, signature string, now time.Time) (*models.Transaction, error) {
	return s.settleTransaction(ctx, orderID, bson.M{
		"status":    models.TransactionCompleted,
		"paymentId": paymentID,
		"signature": signature,
		"updatedAt": now,
	})
}

func (s *Store) FailTransaction(ctx context.Context, orderID string, now time.Time) (*models.Transaction, error) {
	return s.settleTransaction(ctx, orderID, bson.M{
		"status":    models.TransactionFailed,
		"updatedAt": now,
	})
}

func (s *Store) ListTransactions(ctx context.Context, user primitive.ObjectID) ([]models.Transaction, error) {
	return findAll[models.Transaction](ctx, s.transactions,
		bson.M{"user": user},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
}

// MessageStore implementation -------------------------------------------------

func conversation(a, b primitive.ObjectID) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"sender": a, "receiver": b},
		bson.M{"sender": b, "receiver": a},
	}}
}

func (s *Store) CreateMessage(ctx context.Context, m *models.Message) error {
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	_, err := s.messages.InsertOne(ctx, m)
	return err
}

func (s *Store) ListConversation(ctx context.Context, a, b primitive.ObjectID) ([]models.Message, error) {
	return findAll[models.Message](ctx, s.messages,
		conversation(a, b),
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}))
}

func (s *Store) MarkConversationRead(ctx context.Context, sender, receiver primitive.ObjectID, now time.Time) (int64, error) {
	res, err := s.messages.UpdateMany(ctx,
		bson.M{"sender": sender, "receiver": receiver, "read": false},
		bson.M{"$set": bson.M{"read": true, "readAt": now}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *Store) DeleteConversation(ctx context.Context, a, b primitive.ObjectID) (int64, error) {
	res, err := s.messages.DeleteMany(ctx, conversation(a, b))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// NotificationStore implementation --------------------------------------------

func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID.IsZero() {
		n.ID = primitive.NewObjectID()
	}
	_, err := s.notifications.InsertOne(ctx, n)
	return err
}

func (s *Store) ListNotifications(ctx context.Context, user primitive.ObjectID, page, limit int) (*store.NotificationPage, error) {
	if page < 1 {
		page = 1
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))

	items, err := findAll[models.Notification](ctx, s.notifications, bson.M{"userId": user}, opts)
	if err != nil {
		return nil, err
	}
	total, err := s.notifications.CountDocuments(ctx, bson.M{"userId": user})
	if err != nil {
		return nil, err
	}
	unread, err := s.notifications.CountDocuments(ctx, bson.M{"userId": user, "read": false})
	if err != nil {
		return nil, err
	}
	return &store.NotificationPage{Items: items, Total: total, Unread: unread}, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id, user primitive.ObjectID) error {
	res, err := s.notifications.UpdateOne(ctx,
		bson.M{"_id": id, "userId": user},
		bson.M{"$set": bson.M{"read": true}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, user primitive.ObjectID) (int64, error) {
	res, err := s.notifications.UpdateMany(ctx,
		bson.M{"userId": user, "read": false},
		bson.M{"$set": bson.M{"read": true}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// PushStore implementation ----------------------------------------------------

func (s *Store) SavePushSubscription(ctx context.Context, sub *models.PushSubscription) error {
	// Upsert: update if exists, insert if not
	_, err := s.pushSubs.UpdateOne(ctx,
		bson.M{"userId": sub.UserID},
		bson.M{"$set": bson.M{"userId": sub.UserID, "sub": sub.Sub}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *Store) GetPushSubscription(ctx context.Context, user primitive.ObjectID) (*models.PushSubscription, error) {
	var sub models.PushSubscription
	if err := s.pushSubs.FindOne(ctx, bson.M{"userId": user}).Decode(&sub); err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (s *Store) DeletePushSubscription(ctx context.Context, user primitive.ObjectID) error {
	_, err := s.pushSubs.DeleteOne(ctx, bson.M{"userId": user})
	return err
}

// ActivityStore implementation ------------------------------------------------

func (s *Store) CreateActivity(ctx context.Context, a *models.ActivityLog) error {
	if a.ID.IsZero() {
		a.ID = primitive.NewObjectID()
	}
	_, err := s.activity.InsertOne(ctx, a)
	return err
}

func (s *Store) ListActivity(ctx context.Context, user primitive.ObjectID, limit int) ([]models.ActivityLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return findAll[models.ActivityLog](ctx, s.activity, bson.M{"userId": user}, opts)
}
