package domain

import (
	"errors"
	"fmt"
	"time"
)

// TransactionKind classifies a normalized transaction record.
type TransactionKind string

const (
	// KindIn is a taxable acquisition (buy, income, airdrop).
	KindIn TransactionKind = "IN"
	// KindOut is a taxable disposal (sell, payment, gift).
	KindOut TransactionKind = "OUT"
	// KindIntra is a transfer between accounts owned by the same taxpayer.
	KindIntra TransactionKind = "INTRA"
)

// ErrUnknownKind is returned when a transaction kind outside the three
// supported variants reaches core logic. It indicates a contract
// violation by an input plugin, not a recoverable data condition.
var ErrUnknownKind = errors.New("unknown transaction kind")

// Transaction is the uniform record produced by input plugins.
// In/Out transactions carry a single Exchange; Intra transactions carry
// the origin and destination exchanges of the transfer.
type Transaction struct {
	Kind      TransactionKind
	Asset     string
	Timestamp time.Time

	// Exchange is set for IN and OUT transactions.
	Exchange string

	// FromExchange and ToExchange are set for INTRA transactions.
	FromExchange string
	ToExchange   string
}

// PricingExchange returns the exchange whose markets should price this
// transaction: the holding exchange for IN/OUT, the origin exchange for
// INTRA.
func (t *Transaction) PricingExchange() (string, error) {
	switch t.Kind {
	case KindIn, KindOut:
		return t.Exchange, nil
	case KindIntra:
		return t.FromExchange, nil
	default:
		return "", fmt.Errorf("transaction %s/%s: %w: %q", t.Asset, t.Timestamp.Format(time.RFC3339), ErrUnknownKind, t.Kind)
	}
}
