package activity

import (
	"context"
	"testing"
	"time"

	"campusconnect/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestStoreLoggerCarriesRequestMeta(t *testing.T) {
	s := memstore.New()
	l := NewStoreLogger(s)
	fixed := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	user := primitive.NewObjectID()
	ctx := WithRequestMeta(context.Background(), "10.0.0.1", "test-agent")
	l.Log(ctx, user, ActionCoinsDeducted, map[string]interface{}{"amount": 70})
	l.Log(context.Background(), user, ActionLikeSent, nil)

	entries, err := s.ListActivity(context.Background(), user, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, ActionLikeSent, entries[0].Action)
	assert.Empty(t, entries[0].IP)
	assert.Equal(t, ActionCoinsDeducted, entries[1].Action)
	assert.Equal(t, "10.0.0.1", entries[1].IP)
	assert.Equal(t, "test-agent", entries[1].UserAgent)
	assert.Equal(t, fixed, entries[1].CreatedAt)
}
