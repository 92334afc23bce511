package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

type PackType string

const (
	PackCoins     PackType = "coins"
	PackUnlimited PackType = "unlimited"
)

type Transaction struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	User          primitive.ObjectID `bson:"user" json:"user"`
	Amount        int                `bson:"amount" json:"amount"`
	Price         int                `bson:"price" json:"price"`
	Currency      string             `bson:"currency" json:"currency"`
	Status        TransactionStatus  `bson:"status" json:"status"`
	PackType      PackType           `bson:"packType" json:"packType"`
	UnlimitedDays int                `bson:"unlimitedDays,omitempty" json:"unlimitedDays,omitempty"`
	OrderID       string             `bson:"orderId" json:"orderId"`
	PaymentID     string             `bson:"paymentId,omitempty" json:"paymentId,omitempty"`
	Signature     string             `bson:"signature,omitempty" json:"-"`
	CreatedAt     time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time          `bson:"updatedAt" json:"updatedAt"`
}
