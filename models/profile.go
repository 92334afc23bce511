package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// Profile is the revealed view of another user.
type Profile struct {
	ID           primitive.ObjectID `json:"id"`
	Username     string             `json:"username"`
	FullName     string             `json:"fullName"`
	ProfileImage string             `json:"profileImage"`
	Bio          string             `json:"bio"`
	Gender       Gender             `json:"gender"`
	Interests    []string           `json:"interests"`
	Intentions   []string           `json:"intentions"`
	Photos       []string           `json:"photos"`
}

// BlurredProfile is what a receiver sees of a pending like's sender.
type BlurredProfile struct {
	ID        primitive.ObjectID `json:"id"`
	Gender    Gender             `json:"gender"`
	Interests []string           `json:"interests"`
	Photo     string             `json:"photo,omitempty"`
	Blurred   bool               `json:"blurred"`
}

// DatingProfileUpdate carries the user-editable dating fields.
type DatingProfileUpdate struct {
	Gender     Gender     `json:"gender" bson:"datingGender"`
	LookingFor LookingFor `json:"lookingFor" bson:"datingLookingFor"`
	Interests  []string   `json:"interests" bson:"datingInterests"`
	Intentions []string   `json:"intentions" bson:"datingIntentions"`
	Bio        string     `json:"bio" bson:"datingBio"`
	Photos     []string   `json:"photos" bson:"datingPhotos"`
}

// Complete reports whether the update fills every field matching needs.
func (p DatingProfileUpdate) Complete() bool {
	return p.Gender.Valid() && p.LookingFor.Valid() && len(p.Interests) > 0 && len(p.Photos) > 0
}

func ProfileOf(u *User) *Profile {
	return &Profile{
		ID:           u.ID,
		Username:     u.Username,
		FullName:     u.FullName,
		ProfileImage: u.ProfileImage,
		Bio:          u.DatingBio,
		Gender:       u.DatingGender,
		Interests:    u.DatingInterests,
		Intentions:   u.DatingIntentions,
		Photos:       u.DatingPhotos,
	}
}

func BlurredProfileOf(u *User) *BlurredProfile {
	p := &BlurredProfile{ID: u.ID, Gender: u.DatingGender, Blurred: true}
	p.Interests = u.DatingInterests
	if len(p.Interests) > 3 {
		p.Interests = p.Interests[:3]
	}
	if len(u.DatingPhotos) > 0 {
		p.Photo = u.DatingPhotos[0]
	}
	return p
}
