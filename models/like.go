package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type LikeStatus string

const (
	LikePending  LikeStatus = "pending"
	LikeRevealed LikeStatus = "revealed"
	LikeChatting LikeStatus = "chatting"
	LikeDeclined LikeStatus = "declined"
	LikePassed   LikeStatus = "passed"
	LikeArchived LikeStatus = "archived"
)

// Like is a directional interaction from Sender to Receiver. At most one exists
// per ordered pair.
type Like struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Sender        primitive.ObjectID `bson:"sender" json:"sender"`
	Receiver      primitive.ObjectID `bson:"receiver" json:"receiver"`
	Status        LikeStatus         `bson:"status" json:"status"`
	RevealedAt    *time.Time         `bson:"revealedAt,omitempty" json:"revealedAt,omitempty"`
	ChatStartedAt *time.Time         `bson:"chatStartedAt,omitempty" json:"chatStartedAt,omitempty"`
	IsBlindMatch  bool               `bson:"isBlindMatch" json:"isBlindMatch"`
	CreatedAt     time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time          `bson:"updatedAt" json:"updatedAt"`
}

func (l *Like) Involves(user primitive.ObjectID) bool {
	return l.Sender == user || l.Receiver == user
}

// Counterpart returns the other party of the like.
func (l *Like) Counterpart(user primitive.ObjectID) primitive.ObjectID {
	if l.Sender == user {
		return l.Receiver
	}
	return l.Sender
}
