// Package memstore is an in-memory implementation of store.Store. It is safe for
// concurrent use, honours the same conditional-update contracts as the MongoDB
// store and is intended for tests and local development.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"campusconnect/models"
	"campusconnect/store"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type pairKey struct {
	sender, receiver primitive.ObjectID
}

// Store holds every collection behind one lock.
type Store struct {
	mu            sync.RWMutex
	users         map[primitive.ObjectID]*models.User
	likes         map[primitive.ObjectID]*models.Like
	likePairs     map[pairKey]primitive.ObjectID
	sessions      map[primitive.ObjectID]*models.BlindSession
	queue         map[primitive.ObjectID]*models.QueueEntry
	transactions  map[string]*models.Transaction
	messages      []models.Message
	notifications map[primitive.ObjectID]*models.Notification
	pushSubs      map[primitive.ObjectID]*models.PushSubscription
	activity      []models.ActivityLog
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:         make(map[primitive.ObjectID]*models.User),
		likes:         make(map[primitive.ObjectID]*models.Like),
		likePairs:     make(map[pairKey]primitive.ObjectID),
		sessions:      make(map[primitive.ObjectID]*models.BlindSession),
		queue:         make(map[primitive.ObjectID]*models.QueueEntry),
		transactions:  make(map[string]*models.Transaction),
		notifications: make(map[primitive.ObjectID]*models.Notification),
		pushSubs:      make(map[primitive.ObjectID]*models.PushSubscription),
	}
}

// UserStore implementation ----------------------------------------------------

func copyUser(u *models.User) *models.User {
	c := *u
	c.DatingInterests = append([]string(nil), u.DatingInterests...)
	c.DatingIntentions = append([]string(nil), u.DatingIntentions...)
	c.DatingPhotos = append([]string(nil), u.DatingPhotos...)
	return &c
}

func (s *Store) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.PhoneNumber == u.PhoneNumber {
			return store.ErrDuplicate
		}
		if u.ReferralCode != "" && existing.ReferralCode == u.ReferralCode {
			return store.ErrDuplicate
		}
	}
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	s.users[u.ID] = copyUser(u)
	return nil
}

func (s *Store) GetUser(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyUser(u), nil
}

func (s *Store) GetUserByPhone(_ context.Context, phone string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.PhoneNumber == phone {
			return copyUser(u), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetUserByReferralCode(_ context.Context, code string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.ReferralCode != "" && strings.EqualFold(u.ReferralCode, code) {
			return copyUser(u), nil
		}
	}
	return nil, store.ErrNotFound
}

// updateUser runs fn on the stored user under the write lock. fn returns false
// when its condition does not hold.
func (s *Store) updateUser(id primitive.ObjectID, fn func(u *models.User) bool) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNoMatch
	}
	next := copyUser(u)
	if !fn(next) {
		return nil, store.ErrNoMatch
	}
	s.users[id] = next
	return copyUser(next), nil
}

func (s *Store) SetReferralCode(_ context.Context, id primitive.ObjectID, code string) (*models.User, error) {
	s.mu.RLock()
	for otherID, u := range s.users {
		if otherID != id && u.ReferralCode == code {
			s.mu.RUnlock()
			return nil, store.ErrDuplicate
		}
	}
	s.mu.RUnlock()

	return s.updateUser(id, func(u *models.User) bool {
		if u.ReferralCode != "" {
			return false
		}
		u.ReferralCode = code
		return true
	})
}

func (s *Store) SetReferredBy(_ context.Context, id, referrer primitive.ObjectID) error {
	_, err := s.updateUser(id, func(u *models.User) bool {
		if u.ReferredBy != nil {
			return false
		}
		u.ReferredBy = &referrer
		return true
	})
	return err
}

func (s *Store) UpdateDatingProfile(_ context.Context, id primitive.ObjectID, p models.DatingProfileUpdate, complete bool) (*models.User, error) {
	u, err := s.updateUser(id, func(u *models.User) bool {
		u.DatingGender = p.Gender
		u.DatingLookingFor = p.LookingFor
		u.DatingInterests = append([]string(nil), p.Interests...)
		u.DatingIntentions = append([]string(nil), p.Intentions...)
		u.DatingBio = p.Bio
		u.DatingPhotos = append([]string(nil), p.Photos...)
		u.DatingProfileComplete = complete
		return true
	})
	if err == store.ErrNoMatch {
		return nil, store.ErrNotFound
	}
	return u, err
}

func (s *Store) TouchUser(_ context.Context, id primitive.ObjectID, now time.Time) error {
	_, err := s.updateUser(id, func(u *models.User) bool {
		u.LastActive = now
		return true
	})
	if err == store.ErrNoMatch {
		return store.ErrNotFound
	}
	return err
}

func containsGender(genders []models.Gender, g models.Gender) bool {
	if genders == nil {
		return true
	}
	for _, candidate := range genders {
		if candidate == g {
			return true
		}
	}
	return false
}

func (s *Store) ListDatingCandidates(_ context.Context, viewer primitive.ObjectID, genders []models.Gender) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.User
	for id, u := range s.users {
		if id == viewer || !u.DatingProfileComplete || !containsGender(genders, u.DatingGender) {
			continue
		}
		out = append(out, *copyUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	return out, nil
}

func (s *Store) RegenerateLikes(_ context.Context, id primitive.ObjectID, floor int, due, now time.Time) (*models.User, error) {
	return s.updateUser(id, func(u *models.User) bool {
		if u.LastLikeRegenTime.After(due) {
			return false
		}
		if u.Likes < floor {
			u.Likes = floor
		}
		u.LastLikeRegenTime = now
		return true
	})
}

func applyGrant(u *models.User, g store.Grant) {
	u.Coins += g.Coins
	u.Likes += g.Likes
	u.ChatSlots += g.ChatSlots
}

func (s *Store) DebitCoins(_ context.Context, id primitive.ObjectID, amount int, g store.Grant) (*models.User, error) {
	return s.updateUser(id, func(u *models.User) bool {
		if u.Coins < amount {
			return false
		}
		u.Coins -= amount
		applyGrant(u, g)
		return true
	})
}

func (s *Store) GrantIfUnlimited(_ context.Context, id primitive.ObjectID, now time.Time, g store.Grant) (*models.User, error) {
	return s.updateUser(id, func(u *models.User) bool {
		if !u.HasUnlimited(now) {
			return false
		}
		applyGrant(u, g)
		return true
	})
}

func (s *Store) Grant(_ context.Context, id primitive.ObjectID, g store.Grant) (*models.User, error) {
	u, err := s.updateUser(id, func(u *models.User) bool {
		applyGrant(u, g)
		return true
	})
	if err == store.ErrNoMatch {
		return nil, store.ErrNotFound
	}
	return u, err
}

func (s *Store) ConsumeLike(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	return s.updateUser(id, func(u *models.User) bool {
		if u.Likes < 1 {
			return false
		}
		u.Likes--
		return true
	})
}

func (s *Store) ReserveChatSlot(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	return s.updateUser(id, func(u *models.User) bool {
		if u.ActiveChatCount >= u.ChatSlots {
			return false
		}
		u.ActiveChatCount++
		return true
	})
}

func (s *Store) ReleaseChatSlot(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	return s.updateUser(id, func(u *models.User) bool {
		if u.ActiveChatCount <= 0 {
			return false
		}
		u.ActiveChatCount--
		return true
	})
}

func (s *Store) ExtendUnlimited(_ context.Context, id primitive.ObjectID, d time.Duration, now time.Time) (*models.User, error) {
	u, err := s.updateUser(id, func(u *models.User) bool {
		base := now
		if u.UnlimitedCoinsExpiry != nil && u.UnlimitedCoinsExpiry.After(now) {
			base = *u.UnlimitedCoinsExpiry
		}
		until := base.Add(d)
		u.UnlimitedCoinsExpiry = &until
		return true
	})
	if err == store.ErrNoMatch {
		return nil, store.ErrNotFound
	}
	return u, err
}

func (s *Store) ClaimDailyReward(_ context.Context, id primitive.ObjectID, amount int, due, now time.Time) (*models.User, error) {
	return s.updateUser(id, func(u *models.User) bool {
		if u.LastDailyReward != nil && u.LastDailyReward.After(due) {
			return false
		}
		u.Coins += amount
		stamp := now
		u.LastDailyReward = &stamp
		return true
	})
}

func (s *Store) ClaimOnce(_ context.Context, id primitive.ObjectID, flag store.RewardFlag, amount int) (*models.User, error) {
	return s.updateUser(id, func(u *models.User) bool {
		var claimed *bool
		switch flag {
		case store.RewardProfile:
			claimed = &u.ProfileRewardClaimed
		case store.RewardFirstChat:
			claimed = &u.FirstChatRewardClaimed
		default:
			return false
		}
		if *claimed {
			return false
		}
		*claimed = true
		u.Coins += amount
		return true
	})
}
