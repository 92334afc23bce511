package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionExtended SessionStatus = "extended"
	SessionEnded    SessionStatus = "ended"
)

// Live reports whether the session still occupies its participants.
func (s SessionStatus) Live() bool {
	return s == SessionActive || s == SessionExtended
}

type Choice string

const (
	ChoiceNone    Choice = "none"
	ChoiceReveal  Choice = "reveal"
	ChoiceChat    Choice = "chat"
	ChoiceDecline Choice = "decline"
)

// Final choices cannot be changed once recorded.
func (c Choice) Final() bool {
	return c == ChoiceChat || c == ChoiceDecline
}

type EndReason string

const (
	EndNone      EndReason = ""
	EndExpired   EndReason = "expired"
	EndAbandoned EndReason = "abandoned"
	EndManual    EndReason = "manual"
	EndDeclined  EndReason = "declined"
)

// BlindSessionDuration is the fixed length of a blind date.
const BlindSessionDuration = 5 * time.Minute

type BlindMessage struct {
	Sender    primitive.ObjectID `bson:"sender" json:"sender"`
	Text      string             `bson:"text" json:"text"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

type BlindSession struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	User1         primitive.ObjectID `bson:"user1" json:"user1"`
	User2         primitive.ObjectID `bson:"user2" json:"user2"`
	Status        SessionStatus      `bson:"status" json:"status"`
	StartTime     time.Time          `bson:"startTime" json:"startTime"`
	ExpiresAt     time.Time          `bson:"expiresAt" json:"expiresAt"`
	User1Choice   Choice             `bson:"user1Choice" json:"user1Choice"`
	User2Choice   Choice             `bson:"user2Choice" json:"user2Choice"`
	User1Revealed bool               `bson:"user1Revealed" json:"user1Revealed"`
	User2Revealed bool               `bson:"user2Revealed" json:"user2Revealed"`
	Messages      []BlindMessage     `bson:"messages" json:"messages"`
	LastActivity  time.Time          `bson:"lastActivity" json:"lastActivity"`
	EndReason     EndReason          `bson:"endReason" json:"endReason,omitempty"`
	ConnectedAt   *time.Time         `bson:"connectedAt,omitempty" json:"connectedAt,omitempty"`
	CreatedAt     time.Time          `bson:"createdAt" json:"createdAt"`
}

// NewBlindSession pairs joiner (user1) with matched (user2) starting at now.
func NewBlindSession(joiner, matched primitive.ObjectID, now time.Time) *BlindSession {
	return &BlindSession{
		User1:        joiner,
		User2:        matched,
		Status:       SessionActive,
		StartTime:    now,
		ExpiresAt:    now.Add(BlindSessionDuration),
		User1Choice:  ChoiceNone,
		User2Choice:  ChoiceNone,
		Messages:     []BlindMessage{},
		LastActivity: now,
		CreatedAt:    now,
	}
}

// Side returns 1 or 2 for a participant and 0 otherwise.
func (s *BlindSession) Side(user primitive.ObjectID) int {
	switch user {
	case s.User1:
		return 1
	case s.User2:
		return 2
	}
	return 0
}

func (s *BlindSession) IsParty(user primitive.ObjectID) bool {
	return s.Side(user) != 0
}

func (s *BlindSession) Partner(user primitive.ObjectID) primitive.ObjectID {
	if user == s.User1 {
		return s.User2
	}
	return s.User1
}

func (s *BlindSession) ChoiceOf(user primitive.ObjectID) Choice {
	if user == s.User1 {
		return s.User1Choice
	}
	return s.User2Choice
}

func (s *BlindSession) RevealedBy(user primitive.ObjectID) bool {
	if user == s.User1 {
		return s.User1Revealed
	}
	return s.User2Revealed
}

func (s *BlindSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

func (s *BlindSession) BothChoseChat() bool {
	return s.User1Choice == ChoiceChat && s.User2Choice == ChoiceChat
}

func (s *BlindSession) AnyDeclined() bool {
	return s.User1Choice == ChoiceDecline || s.User2Choice == ChoiceDecline
}

// QueueEntry is a user waiting in the blind-date queue.
type QueueEntry struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	User       primitive.ObjectID `bson:"user" json:"user"`
	Gender     Gender             `bson:"gender" json:"gender"`
	LookingFor LookingFor         `bson:"lookingFor" json:"lookingFor"`
	JoinedAt   time.Time          `bson:"joinedAt" json:"joinedAt"`
}
