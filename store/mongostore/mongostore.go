// Package mongostore implements store.Store on MongoDB. Conditional operations
// are single FindOneAndUpdate calls whose filter encodes the precondition.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"campusconnect/models"
	"campusconnect/store"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store wraps the application collections.
type Store struct {
	users         *mongo.Collection
	likes         *mongo.Collection
	sessions      *mongo.Collection
	queue         *mongo.Collection
	transactions  *mongo.Collection
	messages      *mongo.Collection
	notifications *mongo.Collection
	pushSubs      *mongo.Collection
	activity      *mongo.Collection
}

var _ store.Store = (*Store)(nil)

func New(db *mongo.Database) *Store {
	return &Store{
		users:         db.Collection("users"),
		likes:         db.Collection("likes"),
		sessions:      db.Collection("blind_sessions"),
		queue:         db.Collection("blind_queue"),
		transactions:  db.Collection("transactions"),
		messages:      db.Collection("messages"),
		notifications: db.Collection("notifications"),
		pushSubs:      db.Collection("push_subscriptions"),
		activity:      db.Collection("activity_logs"),
	}
}

// EnsureIndexes creates the unique and query indexes the store relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	specs := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{s.users, []mongo.IndexModel{
			{Keys: bson.D{{Key: "phoneNumber", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "referralCode", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
			{Keys: bson.D{{Key: "datingProfileComplete", Value: 1}, {Key: "datingGender", Value: 1}}},
		}},
		{s.likes, []mongo.IndexModel{
			{Keys: bson.D{{Key: "sender", Value: 1}, {Key: "receiver", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "receiver", Value: 1}, {Key: "status", Value: 1}}},
		}},
		{s.sessions, []mongo.IndexModel{
			{Keys: bson.D{{Key: "user1", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "user2", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expiresAt", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "lastActivity", Value: 1}}},
		}},
		{s.queue, []mongo.IndexModel{
			{Keys: bson.D{{Key: "user", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "joinedAt", Value: 1}}},
		}},
		{s.transactions, []mongo.IndexModel{
			{Keys: bson.D{{Key: "orderId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "user", Value: 1}, {Key: "createdAt", Value: -1}}},
		}},
		{s.messages, []mongo.IndexModel{
			{Keys: bson.D{{Key: "sender", Value: 1}, {Key: "receiver", Value: 1}, {Key: "createdAt", Value: 1}}},
			{Keys: bson.D{{Key: "receiver", Value: 1}, {Key: "read", Value: 1}}},
		}},
		{s.notifications, []mongo.IndexModel{
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		}},
		{s.pushSubs, []mongo.IndexModel{
			{Keys: bson.D{{Key: "userId", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
		{s.activity, []mongo.IndexModel{
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		}},
	}

	for _, spec := range specs {
		if _, err := spec.coll.Indexes().CreateMany(ctx, spec.models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", spec.coll.Name(), err)
		}
	}
	logrus.Info("MongoDB indexes ensured")
	return nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return store.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return store.ErrDuplicate
	}
	return err
}

// findOneAndUpdate decodes the post-update document into out. A filter that
// matches nothing yields store.ErrNoMatch.
func findOneAndUpdate(ctx context.Context, coll *mongo.Collection, filter, update, out interface{}, upsert bool) error {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After).SetUpsert(upsert)
	err := coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNoMatch
	}
	return translate(err)
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter interface{}, opts *options.FindOptions) ([]T, error) {
	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := []T{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	_, err := s.users.InsertOne(ctx, u)
	return translate(err)
}

func (s *Store) getUser(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	if err := s.users.FindOne(ctx, filter).Decode(&u); err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return s.getUser(ctx, bson.M{"_id": id})
}

func (s *Store) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	return s.getUser(ctx, bson.M{"phoneNumber": phone})
}

func (s *Store) GetUserByReferralCode(ctx context.Context, code string) (*models.User, error) {
	return s.getUser(ctx, bson.M{"referralCode": strings.ToUpper(code)})
}

func (s *Store) updateUser(ctx context.Context, filter bson.M, update interface{}) (*models.User, error) {
	var u models.User
	if err := findOneAndUpdate(ctx, s.users, filter, update, &u, false); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) SetReferralCode(ctx context.Context, id primitive.ObjectID, code string) (*models.User, error) {
	return s.updateUser(ctx,
		bson.M{"_id": id, "referralCode": bson.M{"$in": bson.A{nil, ""}}},
		bson.M{"$set": bson.M{"referralCode": code}},
	)
}

func (s *Store) SetReferredBy(ctx context.Context, id, referrer primitive.ObjectID) error {
	_, err := s.updateUser(ctx,
		bson.M{"_id": id, "referredBy": nil},
		bson.M{"$set": bson.M{"referredBy": referrer}},
	)
	return err
}

func (s *Store) UpdateDatingProfile(ctx context.Context, id primitive.ObjectID, p models.DatingProfileUpdate, complete bool) (*models.User, error) {
	u, err := s.updateUser(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"datingGender":          p.Gender,
		"datingLookingFor":      p.LookingFor,
		"datingInterests":       p.Interests,
		"datingIntentions":      p.Intentions,
		"datingBio":             p.Bio,
		"datingPhotos":          p.Photos,
		"datingProfileComplete": complete,
	}})
	if errors.Is(err, store.ErrNoMatch) {
		return nil, store.ErrNotFound
	}
	return u, err
}

func (s *Store) TouchUser(ctx context.Context, id primitive.ObjectID, now time.Time) error {
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"lastActive": now}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListDatingCandidates(ctx context.Context, viewer primitive.ObjectID, genders []models.Gender) ([]models.User, error) {
	filter := bson.M{
		"_id":                   bson.M{"$ne": viewer},
		"datingProfileComplete": true,
	}
	if genders != nil {
		filter["datingGender"] = bson.M{"$in": genders}
	}
	return findAll[models.User](ctx, s.users, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
}

func (s *Store) RegenerateLikes(ctx context.Context, id primitive.ObjectID, floor int, due, now time.Time) (*models.User, error) {
	filter := bson.M{
		"_id": id,
		"$or": bson.A{
			bson.M{"lastLikeRegenTime": bson.M{"$lte": due}},
			bson.M{"lastLikeRegenTime": nil},
		},
	}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "likes", Value: bson.D{{Key: "$max", Value: bson.A{"$likes", floor}}}},
			{Key: "lastLikeRegenTime", Value: now},
		}}},
	}
	return s.updateUser(ctx, filter, update)
}

func grantInc(g store.Grant, coinDelta int) bson.M {
	return bson.M{"$inc": bson.M{
		"coins":     g.Coins + coinDelta,
		"likes":     g.Likes,
		"chatSlots": g.ChatSlots,
	}}
}

func (s *Store) DebitCoins(ctx context.Context, id primitive.ObjectID, amount int, g store.Grant) (*models.User, error) {
	return s.updateUser(ctx,
		bson.M{"_id": id, "coins": bson.M{"$gte": amount}},
		grantInc(g, -amount),
	)
}

func (s *Store) GrantIfUnlimited(ctx context.Context, id primitive.ObjectID, now time.Time, g store.Grant) (*models.User, error) {
	return s.updateUser(ctx,
		bson.M{"_id": id, "unlimitedCoinsExpiry": bson.M{"$gt": now}},
		grantInc(g, 0),
	)
}

func (s *Store) Grant(ctx context.Context, id primitive.ObjectID, g store.Grant) (*models.User, error) {
	u, err := s.updateUser(ctx, bson.M{"_id": id}, grantInc(g, 0))
	if errors.Is(err, store.ErrNoMatch) {
		return nil, store.ErrNotFound
	}
	return u, err
}

func (s *Store) ConsumeLike(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return s.updateUser(ctx,
		bson.M{"_id": id, "likes": bson.M{"$gte": 1}},
		bson.M{"$inc": bson.M{"likes": -1}},
	)
}

func (s *Store) ReserveChatSlot(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return s.updateUser(ctx,
		bson.M{"_id": id, "$expr": bson.M{"$lt": bson.A{"$activeChatCount", "$chatSlots"}}},
		bson.M{"$inc": bson.M{"activeChatCount": 1}},
	)
}

func (s *Store) ReleaseChatSlot(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return s.updateUser(ctx,
		bson.M{"_id": id, "activeChatCount": bson.M{"$gt": 0}},
		bson.M{"$inc": bson.M{"activeChatCount": -1}},
	)
}

func (s *Store) ExtendUnlimited(ctx context.Context, id primitive.ObjectID, d time.Duration, now time.Time) (*models.User, error) {
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "unlimitedCoinsExpiry", Value: bson.D{{Key: "$add", Value: bson.A{
				bson.D{{Key: "$max", Value: bson.A{"$unlimitedCoinsExpiry", now}}},
				d.Milliseconds(),
			}}}},
		}}},
	}
	u, err := s.updateUser(ctx, bson.M{"_id": id}, update)
	if errors.Is(err, store.ErrNoMatch) {
		return nil, store.ErrNotFound
	}
	return u, err
}

func (s *Store) ClaimDailyReward(ctx context.Context, id primitive.ObjectID, amount int, due, now time.Time) (*models.User, error) {
	filter := bson.M{
		"_id": id,
		"$or": bson.A{
			bson.M{"lastDailyReward": nil},
			bson.M{"lastDailyReward": bson.M{"$lte": due}},
		},
	}
	return s.updateUser(ctx, filter, bson.M{
		"$inc": bson.M{"coins": amount},
		"$set": bson.M{"lastDailyReward": now},
	})
}

func (s *Store) ClaimOnce(ctx context.Context, id primitive.ObjectID, flag store.RewardFlag, amount int) (*models.User, error) {
	field := string(flag)
	return s.updateUser(ctx,
		bson.M{"_id": id, field: bson.M{"$ne": true}},
		bson.M{"$inc": bson.M{"coins": amount}, "$set": bson.M{field: true}},
	)
}
