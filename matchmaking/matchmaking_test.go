package matchmaking

import (
	"context"
	"sync"
	"testing"
	"time"

	"campusconnect/apperrors"
	"campusconnect/models"
	"campusconnect/notify"
	"campusconnect/store"
	"campusconnect/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var testNow = time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	store    *memstore.Store
	notifier *notify.Recorder
	now      time.Time
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memstore.New(), notifier: &notify.Recorder{}, now: testNow}
	f.svc = NewService(f.store, f.notifier).WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) dater(t *testing.T, g models.Gender, lf models.LookingFor) *models.User {
	t.Helper()
	u := &models.User{
		PhoneNumber:           primitive.NewObjectID().Hex(),
		ChatSlots:             1,
		DatingGender:          g,
		DatingLookingFor:      lf,
		DatingProfileComplete: true,
		DatingInterests:       []string{"music"},
		DatingPhotos:          []string{"p.jpg"},
	}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u
}

func TestJoinScenarioWomanThenMan(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.dater(t, models.GenderWoman, models.LookingForMen)
	b := f.dater(t, models.GenderMan, models.LookingForWomen)

	res, err := f.svc.Join(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSearching, res.Status)
	_, err = f.store.GetQueueEntry(ctx, a.ID)
	require.NoError(t, err)

	f.now = testNow.Add(30 * time.Second)
	res, err = f.svc.Join(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusMatched, res.Status)
	require.NotNil(t, res.SessionID)

	candidates, err := f.store.ListQueueCandidates(ctx, primitive.NilObjectID, nil)
	require.NoError(t, err)
	assert.Empty(t, candidates)

	sess, err := f.store.GetSession(ctx, *res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, sess.User1)
	assert.Equal(t, a.ID, sess.User2)
	assert.Equal(t, models.SessionActive, sess.Status)
	assert.Equal(t, sess.StartTime.Add(5*time.Minute), sess.ExpiresAt)

	for _, id := range []primitive.ObjectID{a.ID, b.ID} {
		st, err := f.svc.Status(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, string(models.SessionActive), st.Status)
		assert.Equal(t, sess.ID, *st.SessionID)

		sent := f.notifier.SentTo(id)
		require.Len(t, sent, 1)
		assert.Equal(t, models.NotifyBlind, sent[0].Type)
	}
}

func TestJoinTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.dater(t, models.GenderWoman, models.LookingForMen)

	for i := 0; i < 2; i++ {
		res, err := f.svc.Join(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusSearching, res.Status)
	}
	candidates, err := f.store.ListQueueCandidates(ctx, primitive.NilObjectID, nil)
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
}

func TestJoinRequiresProfile(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	incomplete := &models.User{PhoneNumber: "1", DatingGender: models.GenderMan}
	require.NoError(t, f.store.CreateUser(ctx, incomplete))

	_, err := f.svc.Join(ctx, incomplete.ID)
	assert.ErrorIs(t, err, apperrors.ErrProfileIncomplete)

	noPref := &models.User{PhoneNumber: "2", DatingProfileComplete: true, DatingGender: models.GenderMan}
	require.NoError(t, f.store.CreateUser(ctx, noPref))
	_, err = f.svc.Join(ctx, noPref.ID)
	assert.ErrorIs(t, err, apperrors.ErrProfileIncomplete)
}

func TestJoinWhileInSession(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.dater(t, models.GenderWoman, models.LookingForEveryone)
	b := f.dater(t, models.GenderMan, models.LookingForEveryone)

	_, err := f.svc.Join(ctx, a.ID)
	require.NoError(t, err)
	res, err := f.svc.Join(ctx, b.ID)
	require.NoError(t, err)

	_, err = f.svc.Join(ctx, a.ID)
	require.ErrorIs(t, err, apperrors.ErrAlreadyInSession)
	appErr, _ := apperrors.As(err)
	assert.Equal(t, res.SessionID.Hex(), appErr.Details["sessionId"])

	// once the session is over a new join is accepted
	f.now = testNow.Add(6 * time.Minute)
	res, err = f.svc.Join(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSearching, res.Status)
}

func TestFindMatchRespectsBothPreferences(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	// oldest entry wants women, joiner is a man: skipped
	picky := f.dater(t, models.GenderWoman, models.LookingForWomen)
	open := f.dater(t, models.GenderWoman, models.LookingForEveryone)
	man := f.dater(t, models.GenderMan, models.LookingForWomen)

	require.NoError(t, f.store.CreateQueueEntry(ctx, &models.QueueEntry{
		User: picky.ID, Gender: picky.DatingGender, LookingFor: picky.DatingLookingFor, JoinedAt: testNow,
	}))
	require.NoError(t, f.store.CreateQueueEntry(ctx, &models.QueueEntry{
		User: open.ID, Gender: open.DatingGender, LookingFor: open.DatingLookingFor, JoinedAt: testNow.Add(time.Second),
	}))

	f.now = testNow.Add(2 * time.Second)
	res, err := f.svc.Join(ctx, man.ID)
	require.NoError(t, err)
	require.Equal(t, StatusMatched, res.Status)

	sess, err := f.store.GetSession(ctx, *res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, open.ID, sess.User2)

	_, err = f.store.GetQueueEntry(ctx, picky.ID)
	assert.NoError(t, err)
}

func TestNonBinaryMatchesOnlyEveryone(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	wantsMen := f.dater(t, models.GenderMan, models.LookingForMen)
	nb := f.dater(t, models.GenderNonBinary, models.LookingForEveryone)

	_, err := f.svc.Join(ctx, wantsMen.ID)
	require.NoError(t, err)
	res, err := f.svc.Join(ctx, nb.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSearching, res.Status)
}

func TestLeaveAndStatus(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.dater(t, models.GenderWoman, models.LookingForMen)

	st, err := f.svc.Status(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, st.Status)

	_, err = f.svc.Join(ctx, a.ID)
	require.NoError(t, err)
	st, err = f.svc.Status(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSearching, st.Status)

	require.NoError(t, f.svc.Leave(ctx, a.ID))
	require.NoError(t, f.svc.Leave(ctx, a.ID))
	st, err = f.svc.Status(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, st.Status)
}

func TestStatusEndsExpiredSession(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.dater(t, models.GenderWoman, models.LookingForEveryone)
	b := f.dater(t, models.GenderMan, models.LookingForEveryone)
	_, err := f.svc.Join(ctx, a.ID)
	require.NoError(t, err)
	res, err := f.svc.Join(ctx, b.ID)
	require.NoError(t, err)

	f.now = testNow.Add(5*time.Minute + time.Second)
	st, err := f.svc.Status(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, st.Status)

	sess, err := f.store.GetSession(ctx, *res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionEnded, sess.Status)
	assert.Equal(t, models.EndExpired, sess.EndReason)

	st, err = f.svc.Status(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, st.Status)
}

func TestConcurrentJoinsNeverDoubleBook(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	var users []*models.User
	for i := 0; i < 10; i++ {
		g, lf := models.GenderWoman, models.LookingForEveryone
		if i%2 == 1 {
			g = models.GenderMan
		}
		users = append(users, f.dater(t, g, lf))
	}

	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(id primitive.ObjectID) {
			defer wg.Done()
			_, err := f.svc.Join(ctx, id)
			assert.NoError(t, err)
		}(u.ID)
	}
	wg.Wait()

	live, err := f.store.ListStaleSessions(ctx, testNow.Add(time.Hour))
	require.NoError(t, err)
	perUser := map[primitive.ObjectID]int{}
	for _, sess := range live {
		perUser[sess.User1]++
		perUser[sess.User2]++
	}
	for _, u := range users {
		assert.LessOrEqual(t, perUser[u.ID], 1)
		_, qErr := f.store.GetQueueEntry(ctx, u.ID)
		if perUser[u.ID] == 1 {
			assert.ErrorIs(t, qErr, store.ErrNotFound, "user both queued and in a session")
		}
	}
}
