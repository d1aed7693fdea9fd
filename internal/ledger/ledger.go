package ledger

import (
	"context"
	"errors"
)

var (
	// ErrInsufficientFunds occurs when a debit leg would overdraw the paying account.
	ErrInsufficientFunds = errors.New("insufficient token balance")

	// ErrTokenNotAssociated indicates an account was asked to hold a token it never associated.
	ErrTokenNotAssociated = errors.New("token not associated to account")

	// ErrAccountNotFound indicates a leg or query referenced an unknown account.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidSignature indicates a transaction was not signed by the required key.
	ErrInvalidSignature = errors.New("invalid signature")
)

// AccountID identifies an account on the ledger network, e.g. "0.0.6939984".
type AccountID string

// TokenID identifies the fungible reward token, e.g. "0.0.6940016".
type TokenID string

// SigningKey is a private key understood by the Network that generated or parsed it.
type SigningKey interface {
	// Public returns the encoded public half of the key.
	Public() string
}

// Confirmation is what the network reports once a submitted transaction reaches consensus.
type Confirmation struct {
	// SubmittedTxID is the id returned when the transaction was accepted for processing.
	SubmittedTxID string
	// ReceiptTxID is the id carried by the consensus receipt, when the network includes one.
	ReceiptTxID string
	// AccountID is set by account creation receipts.
	AccountID AccountID
}

// Leg is one side of a token transfer. Positive amounts credit, negative amounts debit.
type Leg struct {
	Account AccountID
	Amount  int64
}

// TransferTx is an atomic multi-leg token transfer.
type TransferTx struct {
	Token  TokenID
	Legs   []Leg
	Signer SigningKey
}

// Network is the submit-and-confirm client for the external ledger. Every call blocks until the
// network confirms or rejects, bounded only by the client's own timeouts.
type Network interface {
	// SetOperator installs the paying operator account and parses its private key.
	SetOperator(account AccountID, privateKey string) (SigningKey, error)
	// GenerateKey creates a fresh key locally without touching the network.
	GenerateKey() (SigningKey, error)
	CreateAccount(ctx context.Context, key SigningKey) (Confirmation, error)
	AssociateToken(ctx context.Context, account AccountID, token TokenID, key SigningKey) (Confirmation, error)
	Transfer(ctx context.Context, tx TransferTx) (Confirmation, error)
	// Balance returns the holding of token at account; held is false when no holding record exists.
	Balance(ctx context.Context, account AccountID, token TokenID) (amount int64, held bool, err error)
	Close() error
}

// Account is a freshly provisioned ledger identity with the key that created it.
type Account struct {
	ID  AccountID
	Key SigningKey
}

// TransferRecord captures the outcome of one confirmed transfer.
type TransferRecord struct {
	TransactionID string
	// Placeholder is true when neither the receipt nor the submission carried an id and
	// TransactionID was synthesized locally.
	Placeholder bool
}
