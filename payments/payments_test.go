package payments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"campusconnect/activity"
	"campusconnect/apperrors"
	"campusconnect/ledger"
	"campusconnect/models"
	"campusconnect/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const secret = "test-secret"

var testNow = time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

type failingGateway struct{}

func (failingGateway) CreateOrder(context.Context, int, string, string) (string, error) {
	return "", errors.New("gateway down")
}

func setup(t *testing.T) (*Service, *memstore.Store, *models.User) {
	t.Helper()
	s := memstore.New()
	clock := func() time.Time { return testNow }
	logger := activity.NewStoreLogger(s)
	svc := NewService(s, ledger.NewService(s, logger).WithClock(clock), DevGateway{}, secret, logger).WithClock(clock)

	u := &models.User{PhoneNumber: "+910000000001", Coins: 150}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return svc, s, u
}

func TestSignIsHexHMAC(t *testing.T) {
	sig := Sign("key", "order_1", "pay_1")
	assert.Len(t, sig, 64)
	assert.Equal(t, sig, Sign("key", "order_1", "pay_1"))
	assert.NotEqual(t, sig, Sign("other", "order_1", "pay_1"))
	assert.NotEqual(t, sig, Sign("key", "order_1", "pay_2"))
}

func TestCreateOrderStoresPendingTransaction(t *testing.T) {
	ctx := context.Background()
	svc, s, u := setup(t)

	order, err := svc.CreateOrder(ctx, u.ID, "coins_500")
	require.NoError(t, err)
	assert.Equal(t, 19900, order.Amount)
	assert.Equal(t, Currency, order.Currency)
	assert.NotEmpty(t, order.OrderID)

	tx, err := s.GetTransactionByOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionPending, tx.Status)
	assert.Equal(t, 500, tx.Amount)
	assert.Equal(t, u.ID, tx.User)

	_, err = svc.CreateOrder(ctx, u.ID, "coins_1")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestCreateOrderGatewayFailure(t *testing.T) {
	ctx := context.Background()
	svc, s, u := setup(t)
	svc.gateway = failingGateway{}

	_, err := svc.CreateOrder(ctx, u.ID, "coins_100")
	require.Error(t, err)
	txs, err := s.ListTransactions(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestVerifyPaymentCreditsOnce(t *testing.T) {
	ctx := context.Background()
	svc, s, u := setup(t)
	order, err := svc.CreateOrder(ctx, u.ID, "coins_100")
	require.NoError(t, err)
	sig := Sign(secret, order.OrderID, "pay_1")

	receipt, err := svc.VerifyPayment(ctx, u.ID, order.OrderID, "pay_1", sig)
	require.NoError(t, err)
	assert.Equal(t, 250, receipt.Coins)

	_, err = svc.VerifyPayment(ctx, u.ID, order.OrderID, "pay_1", sig)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 250, got.Coins)

	tx, err := s.GetTransactionByOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionCompleted, tx.Status)
	assert.Equal(t, "pay_1", tx.PaymentID)
}

func TestVerifyPaymentConcurrentConfirmations(t *testing.T) {
	ctx := context.Background()
	svc, s, u := setup(t)
	order, err := svc.CreateOrder(ctx, u.ID, "coins_100")
	require.NoError(t, err)
	sig := Sign(secret, order.OrderID, "pay_1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.VerifyPayment(ctx, u.ID, order.OrderID, "pay_1", sig); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 250, got.Coins)
}

func TestVerifyPaymentRejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	svc, s, u := setup(t)
	order, err := svc.CreateOrder(ctx, u.ID, "coins_100")
	require.NoError(t, err)

	_, err = svc.VerifyPayment(ctx, u.ID, order.OrderID, "pay_1", Sign("wrong", order.OrderID, "pay_1"))
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = svc.VerifyPayment(ctx, u.ID, order.OrderID, "pay_1", "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	tx, err := s.GetTransactionByOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionPending, tx.Status)
}

func TestVerifyPaymentOtherUsersOrder(t *testing.T) {
	ctx := context.Background()
	svc, _, u := setup(t)
	order, err := svc.CreateOrder(ctx, u.ID, "coins_100")
	require.NoError(t, err)

	_, err = svc.VerifyPayment(ctx, primitive.NewObjectID(), order.OrderID, "pay_1", Sign(secret, order.OrderID, "pay_1"))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = svc.VerifyPayment(ctx, u.ID, "order_missing", "pay_1", Sign(secret, "order_missing", "pay_1"))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestVerifyPaymentUnlimitedPack(t *testing.T) {
	ctx := context.Background()
	svc, s, u := setup(t)
	order, err := svc.CreateOrder(ctx, u.ID, "unlimited_7")
	require.NoError(t, err)

	receipt, err := svc.VerifyPayment(ctx, u.ID, order.OrderID, "pay_9", Sign(secret, order.OrderID, "pay_9"))
	require.NoError(t, err)
	require.NotNil(t, receipt.UnlimitedUntil)
	assert.Equal(t, testNow.Add(7*24*time.Hour), *receipt.UnlimitedUntil)
	assert.Equal(t, 150, receipt.Coins)

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.HasUnlimited(testNow.Add(6*24*time.Hour)))

	history, err := svc.History(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.TransactionCompleted, history[0].Status)
}
