package ledger

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Op names a network call for fault injection and call counting.
type Op string

const (
	OpCreateAccount  Op = "create_account"
	OpAssociateToken Op = "associate_token"
	OpTransfer       Op = "transfer"
	OpBalance        Op = "balance"
)

const memoryTreasuryAccount AccountID = "0.0.2"

type memKey struct {
	public string
	secret string
}

func (k memKey) Public() string { return k.public }

type memAccount struct {
	publicKey string
	secret    string
	// holdings doubles as the association set: a token is associated once it has an entry.
	holdings map[TokenID]int64
}

// MemoryNetwork is a concurrency-safe simulation of the ledger network. It enforces signatures,
// token association and non-negative balances, and supports fault injection for tests.
type MemoryNetwork struct {
	mu          sync.Mutex
	accounts    map[AccountID]*memAccount
	operator    AccountID
	nextAccount uint64
	nextTx      uint64
	faults      map[Op][]error
	calls       map[Op]int
}

// NewMemoryNetwork creates a network whose treasury account holds supply units of token.
func NewMemoryNetwork(token TokenID, supply int64) *MemoryNetwork {
	key, err := newMemKey()
	if err != nil {
		panic(fmt.Sprintf("generate treasury key: %v", err))
	}
	n := &MemoryNetwork{
		accounts:    make(map[AccountID]*memAccount),
		nextAccount: 1000,
		faults:      make(map[Op][]error),
		calls:       make(map[Op]int),
	}
	n.accounts[memoryTreasuryAccount] = &memAccount{
		publicKey: key.public,
		secret:    key.secret,
		holdings:  map[TokenID]int64{token: supply},
	}
	return n
}

// Treasury returns the account holding the initial supply and its private key.
func (n *MemoryNetwork) Treasury() (AccountID, string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return memoryTreasuryAccount, n.accounts[memoryTreasuryAccount].secret
}

// FailNext makes the next len(errs) calls of op fail with the given errors, in order.
func (n *MemoryNetwork) FailNext(op Op, errs ...error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.faults[op] = append(n.faults[op], errs...)
}

// Calls reports how many times op has been invoked, including injected failures.
func (n *MemoryNetwork) Calls(op Op) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[op]
}

// SeedBalance overwrites the holding of token at account, associating it if needed.
func (n *MemoryNetwork) SeedBalance(account AccountID, token TokenID, amount int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if acct, ok := n.accounts[account]; ok {
		acct.holdings[token] = amount
	}
}

// Total returns the sum of all holdings of token, which transfers must conserve.
func (n *MemoryNetwork) Total(token TokenID) int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	var total int64
	for _, acct := range n.accounts {
		total += acct.holdings[token]
	}
	return total
}

func (n *MemoryNetwork) SetOperator(account AccountID, privateKey string) (SigningKey, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	acct, ok := n.accounts[account]
	if !ok {
		return nil, fmt.Errorf("operator %s: %w", account, ErrAccountNotFound)
	}
	if acct.secret != privateKey {
		return nil, fmt.Errorf("operator %s: %w", account, ErrInvalidSignature)
	}
	n.operator = account
	return memKey{public: acct.publicKey, secret: acct.secret}, nil
}

func (n *MemoryNetwork) GenerateKey() (SigningKey, error) {
	return newMemKey()
}

func (n *MemoryNetwork) CreateAccount(ctx context.Context, key SigningKey) (Confirmation, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.begin(ctx, OpCreateAccount); err != nil {
		return Confirmation{}, err
	}
	k, ok := key.(memKey)
	if !ok {
		return Confirmation{}, fmt.Errorf("create account: %w", ErrInvalidSignature)
	}

	n.nextAccount++
	id := AccountID(fmt.Sprintf("0.0.%d", n.nextAccount))
	n.accounts[id] = &memAccount{publicKey: k.public, secret: k.secret, holdings: make(map[TokenID]int64)}

	txID := n.txID()
	return Confirmation{SubmittedTxID: txID, ReceiptTxID: txID, AccountID: id}, nil
}

func (n *MemoryNetwork) AssociateToken(ctx context.Context, account AccountID, token TokenID, key SigningKey) (Confirmation, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.begin(ctx, OpAssociateToken); err != nil {
		return Confirmation{}, err
	}
	acct, ok := n.accounts[account]
	if !ok {
		return Confirmation{}, fmt.Errorf("associate %s: %w", account, ErrAccountNotFound)
	}
	if key == nil || key.Public() != acct.publicKey {
		return Confirmation{}, fmt.Errorf("associate %s: %w", account, ErrInvalidSignature)
	}
	if _, exists := acct.holdings[token]; !exists {
		acct.holdings[token] = 0
	}

	txID := n.txID()
	return Confirmation{SubmittedTxID: txID, ReceiptTxID: txID}, nil
}

func (n *MemoryNetwork) Transfer(ctx context.Context, tx TransferTx) (Confirmation, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.begin(ctx, OpTransfer); err != nil {
		return Confirmation{}, err
	}

	var sum int64
	next := make(map[AccountID]int64, len(tx.Legs))
	for _, leg := range tx.Legs {
		acct, ok := n.accounts[leg.Account]
		if !ok {
			return Confirmation{}, fmt.Errorf("transfer leg %s: %w", leg.Account, ErrAccountNotFound)
		}
		balance, associated := acct.holdings[tx.Token]
		if !associated {
			return Confirmation{}, fmt.Errorf("transfer leg %s: %w", leg.Account, ErrTokenNotAssociated)
		}
		if leg.Amount < 0 && (tx.Signer == nil || tx.Signer.Public() != acct.publicKey) {
			return Confirmation{}, fmt.Errorf("debit %s: %w", leg.Account, ErrInvalidSignature)
		}
		if prior, seen := next[leg.Account]; seen {
			balance = prior
		}
		next[leg.Account] = balance + leg.Amount
		sum += leg.Amount
	}
	if sum != 0 {
		return Confirmation{}, fmt.Errorf("transfer legs do not balance (net %d)", sum)
	}
	for account, balance := range next {
		if balance < 0 {
			return Confirmation{}, fmt.Errorf("debit %s: %w", account, ErrInsufficientFunds)
		}
	}
	for account, balance := range next {
		n.accounts[account].holdings[tx.Token] = balance
	}

	txID := n.txID()
	return Confirmation{SubmittedTxID: txID, ReceiptTxID: txID}, nil
}

func (n *MemoryNetwork) Balance(ctx context.Context, account AccountID, token TokenID) (int64, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.begin(ctx, OpBalance); err != nil {
		return 0, false, err
	}
	acct, ok := n.accounts[account]
	if !ok {
		return 0, false, fmt.Errorf("balance of %s: %w", account, ErrAccountNotFound)
	}
	amount, held := acct.holdings[token]
	return amount, held, nil
}

func (n *MemoryNetwork) Close() error { return nil }

// begin counts the call and pops an injected fault. Callers hold n.mu.
func (n *MemoryNetwork) begin(ctx context.Context, op Op) error {
	n.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if queued := n.faults[op]; len(queued) > 0 {
		n.faults[op] = queued[1:]
		return queued[0]
	}
	return nil
}

// txID mimics the payer@seconds.nanos shape of ledger transaction ids. Callers hold n.mu.
func (n *MemoryNetwork) txID() string {
	n.nextTx++
	payer := n.operator
	if payer == "" {
		payer = memoryTreasuryAccount
	}
	return fmt.Sprintf("%s@%d.%09d", payer, time.Now().Unix(), n.nextTx)
}

func newMemKey() (memKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return memKey{}, err
	}
	return memKey{public: hex.EncodeToString(pub), secret: hex.EncodeToString(priv.Seed())}, nil
}
