package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Gender string

const (
	GenderMan       Gender = "Man"
	GenderWoman     Gender = "Woman"
	GenderNonBinary Gender = "Non-binary"
)

func (g Gender) Valid() bool {
	switch g {
	case GenderMan, GenderWoman, GenderNonBinary:
		return true
	}
	return false
}

type LookingFor string

const (
	LookingForMen      LookingFor = "Men"
	LookingForWomen    LookingFor = "Women"
	LookingForEveryone LookingFor = "Everyone"
)

func (l LookingFor) Valid() bool {
	switch l {
	case LookingForMen, LookingForWomen, LookingForEveryone:
		return true
	}
	return false
}

// Accepts reports whether someone looking for l is interested in gender g.
func (l LookingFor) Accepts(g Gender) bool {
	switch l {
	case LookingForEveryone:
		return g != ""
	case LookingForWomen:
		return g == GenderWoman
	case LookingForMen:
		return g == GenderMan
	}
	return false
}

// Genders lists the genders l accepts. Nil means any gender.
func (l LookingFor) Genders() []Gender {
	switch l {
	case LookingForWomen:
		return []Gender{GenderWoman}
	case LookingForMen:
		return []Gender{GenderMan}
	}
	return nil
}

type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	PhoneNumber  string             `bson:"phoneNumber" json:"phoneNumber"`
	Username     string             `bson:"username" json:"username"`
	FullName     string             `bson:"fullName" json:"fullName"`
	ProfileImage string             `bson:"profileImage" json:"profileImage"`

	Coins                int        `bson:"coins" json:"coins"`
	Likes                int        `bson:"likes" json:"likes"`
	LastLikeRegenTime    time.Time  `bson:"lastLikeRegenTime" json:"lastLikeRegenTime"`
	ChatSlots            int        `bson:"chatSlots" json:"chatSlots"`
	ActiveChatCount      int        `bson:"activeChatCount" json:"activeChatCount"`
	UnlimitedCoinsExpiry *time.Time `bson:"unlimitedCoinsExpiry,omitempty" json:"unlimitedCoinsExpiry,omitempty"`

	DatingGender          Gender     `bson:"datingGender,omitempty" json:"datingGender,omitempty"`
	DatingLookingFor      LookingFor `bson:"datingLookingFor,omitempty" json:"datingLookingFor,omitempty"`
	DatingProfileComplete bool       `bson:"datingProfileComplete" json:"datingProfileComplete"`
	DatingInterests       []string   `bson:"datingInterests" json:"datingInterests"`
	DatingIntentions      []string   `bson:"datingIntentions" json:"datingIntentions"`
	DatingBio             string     `bson:"datingBio" json:"datingBio"`
	DatingPhotos          []string   `bson:"datingPhotos" json:"datingPhotos"`

	ReferralCode           string              `bson:"referralCode,omitempty" json:"referralCode,omitempty"`
	ReferredBy             *primitive.ObjectID `bson:"referredBy,omitempty" json:"referredBy,omitempty"`
	LastDailyReward        *time.Time          `bson:"lastDailyReward,omitempty" json:"lastDailyReward,omitempty"`
	ProfileRewardClaimed   bool                `bson:"profileRewardClaimed" json:"profileRewardClaimed"`
	FirstChatRewardClaimed bool                `bson:"firstChatRewardClaimed" json:"firstChatRewardClaimed"`

	LastActive time.Time `bson:"lastActive" json:"lastActive"`
	CreatedAt  time.Time `bson:"createdAt" json:"createdAt"`
}

// HasUnlimited reports whether the unlimited-coins plan covers now.
func (u *User) HasUnlimited(now time.Time) bool {
	return u.UnlimitedCoinsExpiry != nil && u.UnlimitedCoinsExpiry.After(now)
}

// AvailableSlots is never negative.
func (u *User) AvailableSlots() int {
	if n := u.ChatSlots - u.ActiveChatCount; n > 0 {
		return n
	}
	return 0
}

func (u *User) HasFreeSlot() bool {
	return u.ActiveChatCount < u.ChatSlots
}

// CanDate reports whether the dating profile is usable for matching.
func (u *User) CanDate() bool {
	return u.DatingProfileComplete && u.DatingGender.Valid() && u.DatingLookingFor.Valid()
}

// DisplayName falls back to the username when no full name is set.
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	if u.Username != "" {
		return u.Username
	}
	return "Someone"
}
