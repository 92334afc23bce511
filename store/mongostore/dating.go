package mongostore

import (
	"context"
	"fmt"
	"time"

	"campusconnect/models"
	"campusconnect/store"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var liveStatuses = bson.A{models.SessionActive, models.SessionExtended}

// LikeStore implementation ----------------------------------------------------

func likeSet(t store.LikeTransition) bson.M {
	set := bson.M{"status": t.To, "updatedAt": t.Now}
	if t.RevealedAt != nil {
		set["revealedAt"] = *t.RevealedAt
	}
	if t.ChatStartedAt != nil {
		set["chatStartedAt"] = *t.ChatStartedAt
	}
	if t.IsBlindMatch {
		set["isBlindMatch"] = true
	}
	return set
}

func (s *Store) CreateLike(ctx context.Context, l *models.Like) error {
	if l.ID.IsZero() {
		l.ID = primitive.NewObjectID()
	}
	_, err := s.likes.InsertOne(ctx, l)
	return translate(err)
}

func (s *Store) getLike(ctx context.Context, filter bson.M) (*models.Like, error) {
	var l models.Like
	if err := s.likes.FindOne(ctx, filter).Decode(&l); err != nil {
		return nil, translate(err)
	}
	return &l, nil
}

func (s *Store) GetLike(ctx context.Context, id primitive.ObjectID) (*models.Like, error) {
	return s.getLike(ctx, bson.M{"_id": id})
}

func (s *Store) FindLike(ctx context.Context, sender, receiver primitive.ObjectID) (*models.Like, error) {
	return s.getLike(ctx, bson.M{"sender": sender, "receiver": receiver})
}

func (s *Store) TransitionLike(ctx context.Context, id primitive.ObjectID, from []models.LikeStatus, t store.LikeTransition) (*models.Like, error) {
	var l models.Like
	err := findOneAndUpdate(ctx, s.likes,
		bson.M{"_id": id, "status": bson.M{"$in": from}},
		bson.M{"$set": likeSet(t)},
		&l, false)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) UpsertLike(ctx context.Context, sender, receiver primitive.ObjectID, t store.LikeTransition, unless []models.LikeStatus) (*models.Like, error) {
	filter := bson.M{"sender": sender, "receiver": receiver}
	if len(unless) > 0 {
		filter["status"] = bson.M{"$nin": unless}
	}
	update := bson.M{
		"$set":         likeSet(t),
		"$setOnInsert": bson.M{"createdAt": t.Now},
	}

	var l models.Like
	if err := findOneAndUpdate(ctx, s.likes, filter, update, &l, true); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) ListLikesReceived(ctx context.Context, receiver primitive.ObjectID, statuses []models.LikeStatus) ([]models.Like, error) {
	return findAll[models.Like](ctx, s.likes,
		bson.M{"receiver": receiver, "status": bson.M{"$in": statuses}},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
}

func (s *Store) ListLikesInvolving(ctx context.Context, user primitive.ObjectID, statuses []models.LikeStatus) ([]models.Like, error) {
	return findAll[models.Like](ctx, s.likes,
		bson.M{
			"$or":    bson.A{bson.M{"sender": user}, bson.M{"receiver": user}},
			"status": bson.M{"$in": statuses},
		},
		options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}}))
}

func (s *Store) ListLikesSent(ctx context.Context, sender primitive.ObjectID) ([]models.Like, error) {
	return findAll[models.Like](ctx, s.likes,
		bson.M{"sender": sender},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
}

// SessionStore implementation -------------------------------------------------

func (s *Store) CreateSession(ctx context.Context, sess *models.BlindSession) error {
	if sess.ID.IsZero() {
		sess.ID = primitive.NewObjectID()
	}
	_, err := s.sessions.InsertOne(ctx, sess)
	return translate(err)
}

func (s *Store) GetSession(ctx context.Context, id primitive.ObjectID) (*models.BlindSession, error) {
	var sess models.BlindSession
	if err := s.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&sess); err != nil {
		return nil, translate(err)
	}
	return &sess, nil
}

func (s *Store) FindLiveSession(ctx context.Context, user primitive.ObjectID) (*models.BlindSession, error) {
	var sess models.BlindSession
	err := s.sessions.FindOne(ctx,
		bson.M{
			"$or":    bson.A{bson.M{"user1": user}, bson.M{"user2": user}},
			"status": bson.M{"$in": liveStatuses},
		},
		options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}}),
	).Decode(&sess)
	if err != nil {
		return nil, translate(err)
	}
	return &sess, nil
}

func (s *Store) updateSession(ctx context.Context, filter bson.M, update bson.M) (*models.BlindSession, error) {
	var sess models.BlindSession
	if err := findOneAndUpdate(ctx, s.sessions, filter, update, &sess, false); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) AppendSessionMessage(ctx context.Context, id primitive.ObjectID, msg models.BlindMessage) (*models.BlindSession, error) {
	return s.updateSession(ctx,
		bson.M{
			"_id":       id,
			"status":    bson.M{"$in": liveStatuses},
			"expiresAt": bson.M{"$gte": msg.CreatedAt},
		},
		bson.M{
			"$push": bson.M{"messages": msg},
			"$set":  bson.M{"lastActivity": msg.CreatedAt},
		})
}

func (s *Store) SetSessionChoice(ctx context.Context, id primitive.ObjectID, u store.ChoiceUpdate) (*models.BlindSession, error) {
	if u.Side != 1 && u.Side != 2 {
		return nil, store.ErrNoMatch
	}
	choiceField := fmt.Sprintf("user%dChoice", u.Side)
	revealedField := fmt.Sprintf("user%dRevealed", u.Side)

	filter := bson.M{
		"_id":       id,
		choiceField: bson.M{"$in": u.Prior},
		"$or": bson.A{
			bson.M{"status": models.SessionActive},
			bson.M{
				"status":    models.SessionEnded,
				"endReason": models.EndExpired,
				"expiresAt": bson.M{"$gte": u.Now.Add(-u.Grace)},
			},
		},
	}
	set := bson.M{choiceField: u.Choice}
	if u.Choice == models.ChoiceReveal || u.Choice == models.ChoiceChat {
		set[revealedField] = true
	}
	return s.updateSession(ctx, filter, bson.M{"$set": set})
}

func (s *Store) ConnectSession(ctx context.Context, id primitive.ObjectID, now time.Time) (*models.BlindSession, error) {
	var sess models.BlindSession
	err := findOneAndUpdate(ctx, s.sessions,
		bson.M{
			"_id":         id,
			"connectedAt": nil,
			"user1Choice": models.ChoiceChat,
			"user2Choice": models.ChoiceChat,
			"$or": bson.A{
				bson.M{"status": bson.M{"$ne": models.SessionEnded}},
				bson.M{"endReason": models.EndExpired},
			},
		},
		// an expired session stays ended; only an active one becomes extended
		bson.A{bson.M{"$set": bson.M{
			"connectedAt": now,
			"status": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$status", models.SessionActive}},
				models.SessionExtended,
				"$status",
			}},
		}}},
		&sess, false)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) EndSession(ctx context.Context, id primitive.ObjectID, from []models.SessionStatus, reason models.EndReason, now time.Time) (*models.BlindSession, error) {
	return s.updateSession(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": from}},
		bson.M{"$set": bson.M{"status": models.SessionEnded, "endReason": reason}})
}

func (s *Store) EndExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.sessions.UpdateMany(ctx,
		bson.M{"status": bson.M{"$in": liveStatuses}, "expiresAt": bson.M{"$lt": now}},
		bson.M{"$set": bson.M{"status": models.SessionEnded, "endReason": models.EndExpired}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *Store) ListStaleSessions(ctx context.Context, cutoff time.Time) ([]models.BlindSession, error) {
	return findAll[models.BlindSession](ctx, s.sessions,
		bson.M{"status": bson.M{"$in": liveStatuses}, "lastActivity": bson.M{"$lt": cutoff}},
		options.Find().SetSort(bson.D{{Key: "lastActivity", Value: 1}}))
}

func (s *Store) EndStaleSession(ctx context.Context, id primitive.ObjectID, cutoff, now time.Time) (*models.BlindSession, error) {
	return s.updateSession(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": liveStatuses}, "lastActivity": bson.M{"$lt": cutoff}},
		bson.M{"$set": bson.M{"status": models.SessionEnded, "endReason": models.EndAbandoned}})
}

// QueueStore implementation ---------------------------------------------------

func (s *Store) CreateQueueEntry(ctx context.Context, e *models.QueueEntry) error {
	if e.ID.IsZero() {
		e.ID = primitive.NewObjectID()
	}
	_, err := s.queue.InsertOne(ctx, e)
	return translate(err)
}

func (s *Store) GetQueueEntry(ctx context.Context, user primitive.ObjectID) (*models.QueueEntry, error) {
	var e models.QueueEntry
	if err := s.queue.FindOne(ctx, bson.M{"user": user}).Decode(&e); err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

func (s *Store) ListQueueCandidates(ctx context.Context, exclude primitive.ObjectID, genders []models.Gender) ([]models.QueueEntry, error) {
	filter := bson.M{"user": bson.M{"$ne": exclude}}
	if genders != nil {
		filter["gender"] = bson.M{"$in": genders}
	}
	return findAll[models.QueueEntry](ctx, s.queue, filter,
		options.Find().SetSort(bson.D{{Key: "joinedAt", Value: 1}, {Key: "_id", Value: 1}}))
}

func (s *Store) ClaimQueueEntry(ctx context.Context, user primitive.ObjectID) (bool, error) {
	res, err := s.queue.DeleteOne(ctx, bson.M{"user": user})
	if err != nil {
		return false, err
	}
	return res.DeletedCount == 1, nil
}

func (s *Store) DeleteQueueEntry(ctx context.Context, user primitive.ObjectID) error {
	_, err := s.queue.DeleteOne(ctx, bson.M{"user": user})
	return err
}

func (s *Store) DeleteStaleQueueEntries(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.queue.DeleteMany(ctx, bson.M{"joinedAt": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
