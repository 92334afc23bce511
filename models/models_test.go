package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestLookingForAccepts(t *testing.T) {
	tests := []struct {
		lookingFor LookingFor
		gender     Gender
		want       bool
	}{
		{LookingForEveryone, GenderNonBinary, true},
		{LookingForEveryone, GenderMan, true},
		{LookingForWomen, GenderWoman, true},
		{LookingForWomen, GenderMan, false},
		{LookingForMen, GenderMan, true},
		{LookingForMen, GenderNonBinary, false},
		{LookingForEveryone, "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.lookingFor.Accepts(tt.gender), "%s accepts %s", tt.lookingFor, tt.gender)
	}

	assert.Nil(t, LookingForEveryone.Genders())
	assert.Equal(t, []Gender{GenderWoman}, LookingForWomen.Genders())
}

func TestUserLedgerHelpers(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	u := &User{ChatSlots: 1, ActiveChatCount: 2}
	assert.Equal(t, 0, u.AvailableSlots())
	assert.False(t, u.HasFreeSlot())
	assert.False(t, u.HasUnlimited(now))

	u.UnlimitedCoinsExpiry = &future
	assert.True(t, u.HasUnlimited(now))
	u.UnlimitedCoinsExpiry = &past
	assert.False(t, u.HasUnlimited(now))
}

func TestBlurredProfileOf(t *testing.T) {
	u := &User{
		ID:              primitive.NewObjectID(),
		FullName:        "Hidden Name",
		DatingGender:    GenderWoman,
		DatingInterests: []string{"a", "b", "c", "d"},
		DatingPhotos:    []string{"p1", "p2"},
	}

	p := BlurredProfileOf(u)
	assert.Equal(t, u.ID, p.ID)
	assert.Equal(t, []string{"a", "b", "c"}, p.Interests)
	assert.Equal(t, "p1", p.Photo)
	assert.True(t, p.Blurred)
}

func TestBlindSessionSides(t *testing.T) {
	a, b, c := primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()
	now := time.Now()
	s := NewBlindSession(a, b, now)

	assert.Equal(t, now.Add(5*time.Minute), s.ExpiresAt)
	assert.Equal(t, 1, s.Side(a))
	assert.Equal(t, 2, s.Side(b))
	assert.False(t, s.IsParty(c))
	assert.Equal(t, b, s.Partner(a))
	assert.False(t, s.Expired(now.Add(5*time.Minute)))
	assert.True(t, s.Expired(now.Add(5*time.Minute+time.Second)))

	s.User1Choice, s.User2Choice = ChoiceChat, ChoiceChat
	assert.True(t, s.BothChoseChat())
	assert.True(t, ChoiceDecline.Final())
	assert.False(t, ChoiceReveal.Final())
}
