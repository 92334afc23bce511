// Package payments sells coin packs and unlimited plans. An order is created
// with the payment gateway and stored as a pending transaction; the client's
// signed confirmation completes it exactly once and credits the buyer.
package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"campusconnect/activity"
	"campusconnect/apperrors"
	"campusconnect/ledger"
	"campusconnect/models"
	"campusconnect/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const Currency = "INR"

// Pack is a purchasable product. Price is in whole rupees.
type Pack struct {
	ID    string          `json:"id"`
	Type  models.PackType `json:"type"`
	Coins int             `json:"coins,omitempty"`
	Days  int             `json:"days,omitempty"`
	Price int             `json:"price"`
}

var catalog = []Pack{
	{ID: "coins_100", Type: models.PackCoins, Coins: 100, Price: 49},
	{ID: "coins_500", Type: models.PackCoins, Coins: 500, Price: 199},
	{ID: "coins_1200", Type: models.PackCoins, Coins: 1200, Price: 399},
	{ID: "unlimited_7", Type: models.PackUnlimited, Days: 7, Price: 299},
	{ID: "unlimited_30", Type: models.PackUnlimited, Days: 30, Price: 799},
}

// Packs lists the catalog.
func Packs() []Pack {
	return append([]Pack(nil), catalog...)
}

func findPack(id string) (Pack, bool) {
	for _, p := range catalog {
		if p.ID == id {
			return p, true
		}
	}
	return Pack{}, false
}

// Gateway creates orders with the payment provider.
type Gateway interface {
	CreateOrder(ctx context.Context, amountMinor int, currency, receipt string) (orderID string, err error)
}

// DevGateway issues local order ids without contacting a provider.
type DevGateway struct{}

func (DevGateway) CreateOrder(_ context.Context, amountMinor int, currency, receipt string) (string, error) {
	id := "order_" + uuid.NewString()
	logrus.WithFields(logrus.Fields{
		"orderId":  id,
		"amount":   amountMinor,
		"currency": currency,
		"receipt":  receipt,
	}).Info("[Payments] dev order created")
	return id, nil
}

// Sign is the provider's confirmation signature: hex HMAC-SHA256 of
// "orderId|paymentId" keyed with the account secret.
func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

type Service struct {
	store    store.TransactionStore
	ledger   *ledger.Service
	gateway  Gateway
	secret   string
	activity activity.Logger
	now      func() time.Time
}

func NewService(s store.TransactionStore, l *ledger.Service, gw Gateway, secret string, logger activity.Logger) *Service {
	return &Service{store: s, ledger: l, gateway: gw, secret: secret, activity: logger, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Order is what the client needs to open the provider checkout.
type Order struct {
	OrderID  string `json:"orderId"`
	Amount   int    `json:"amount"`
	Currency string `json:"currency"`
	Pack     Pack   `json:"pack"`
}

// CreateOrder opens an order for packID and records it as pending.
func (s *Service) CreateOrder(ctx context.Context, userID primitive.ObjectID, packID string) (*Order, error) {
	pack, ok := findPack(packID)
	if !ok {
		return nil, apperrors.Validation("Unknown pack %q", packID)
	}

	amountMinor := pack.Price * 100
	orderID, err := s.gateway.CreateOrder(ctx, amountMinor, Currency, "receipt_"+uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("create gateway order: %w", err)
	}

	now := s.now()
	tx := &models.Transaction{
		User:          userID,
		Amount:        pack.Coins,
		Price:         pack.Price,
		Currency:      Currency,
		Status:        models.TransactionPending,
		PackType:      pack.Type,
		UnlimitedDays: pack.Days,
		OrderID:       orderID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("save transaction: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"userId":  userID.Hex(),
		"orderId": orderID,
		"pack":    pack.ID,
	}).Info("[Payments] order created")
	return &Order{OrderID: orderID, Amount: amountMinor, Currency: Currency, Pack: pack}, nil
}

// Receipt reports the buyer's state after a verified payment.
type Receipt struct {
	Coins          int        `json:"coins"`
	UnlimitedUntil *time.Time `json:"unlimitedUntil,omitempty"`
	Message        string     `json:"message"`
}

// VerifyPayment checks the provider signature and completes the order once.
func (s *Service) VerifyPayment(ctx context.Context, userID primitive.ObjectID, orderID, paymentID, signature string) (*Receipt, error) {
	if orderID == "" || paymentID == "" || signature == "" {
		return nil, apperrors.Validation("orderId, paymentId and signature are required")
	}
	expected := Sign(s.secret, orderID, paymentID)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		logrus.WithField("orderId", orderID).Warn("[Payments] invalid signature")
		return nil, apperrors.Validation("Invalid payment signature")
	}

	tx, err := s.store.GetTransactionByOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound("transaction")
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	if tx.User != userID {
		return nil, apperrors.NotFound("transaction")
	}

	tx, err = s.store.CompleteTransaction(ctx, orderID, paymentID, signature, s.now())
	if errors.Is(err, store.ErrNoMatch) {
		return nil, apperrors.New(apperrors.KindConflict, "Payment already verified")
	}
	if err != nil {
		return nil, fmt.Errorf("complete transaction: %w", err)
	}

	receipt, err := s.fulfil(ctx, tx)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"userId":  userID.Hex(),
			"orderId": orderID,
		}).Error("[Payments] completed order could not be fulfilled")
		return nil, err
	}

	s.activity.Log(ctx, userID, activity.ActionPurchase, map[string]interface{}{
		"orderId":   orderID,
		"paymentId": paymentID,
		"packType":  tx.PackType,
		"amount":    tx.Amount,
		"price":     tx.Price,
	})
	return receipt, nil
}

func (s *Service) fulfil(ctx context.Context, tx *models.Transaction) (*Receipt, error) {
	switch tx.PackType {
	case models.PackUnlimited:
		u, err := s.ledger.GrantUnlimited(ctx, tx.User, tx.UnlimitedDays)
		if err != nil {
			return nil, err
		}
		return &Receipt{
			Coins:          u.Coins,
			UnlimitedUntil: u.UnlimitedCoinsExpiry,
			Message:        fmt.Sprintf("Unlimited coins activated for %d days!", tx.UnlimitedDays),
		}, nil
	default:
		u, err := s.ledger.Credit(ctx, tx.User, tx.Amount, "purchase")
		if err != nil {
			return nil, err
		}
		return &Receipt{Coins: u.Coins, Message: fmt.Sprintf("Added %d coins successfully!", tx.Amount)}, nil
	}
}

// History lists the user's transactions, newest first.
func (s *Service) History(ctx context.Context, userID primitive.ObjectID) ([]models.Transaction, error) {
	txs, err := s.store.ListTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	return txs, nil
}
