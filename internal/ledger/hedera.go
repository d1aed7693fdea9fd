package ledger

import (
	"context"
	"fmt"
	"strings"

	hedera "github.com/hashgraph/hedera-sdk-go/v2"
)

// HederaConfig selects the Hedera network and the encoding of the operator key.
type HederaConfig struct {
	// Network is one of testnet, previewnet or mainnet.
	Network string
	// KeyType is ed25519 or ecdsa. Empty lets the SDK guess from the encoding.
	KeyType string
}

type hederaKey struct {
	key hedera.PrivateKey
}

func (k hederaKey) Public() string { return k.key.PublicKey().String() }

// HederaNetwork implements Network on top of the Hedera Go SDK.
type HederaNetwork struct {
	client  *hedera.Client
	keyType string
}

// NewHederaNetwork opens a client for the named network.
func NewHederaNetwork(cfg HederaConfig) (*HederaNetwork, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Network))
	if name == "" {
		name = "testnet"
	}
	client, err := hedera.ClientForName(name)
	if err != nil {
		return nil, fmt.Errorf("hedera client for %q: %w", name, err)
	}
	return &HederaNetwork{client: client, keyType: strings.ToLower(cfg.KeyType)}, nil
}

func (h *HederaNetwork) SetOperator(account AccountID, privateKey string) (SigningKey, error) {
	id, err := hedera.AccountIDFromString(string(account))
	if err != nil {
		return nil, fmt.Errorf("parse operator account: %w", err)
	}
	key, err := h.parseKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}
	h.client.SetOperator(id, key)
	return hederaKey{key: key}, nil
}

func (h *HederaNetwork) GenerateKey() (SigningKey, error) {
	key, err := hedera.PrivateKeyGenerateEd25519()
	if err != nil {
		return nil, err
	}
	return hederaKey{key: key}, nil
}

func (h *HederaNetwork) CreateAccount(ctx context.Context, key SigningKey) (Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return Confirmation{}, err
	}
	k, ok := key.(hederaKey)
	if !ok {
		return Confirmation{}, fmt.Errorf("create account: %w", ErrInvalidSignature)
	}

	tx, err := hedera.NewAccountCreateTransaction().
		SetKey(k.key.PublicKey()).
		SetInitialBalance(hedera.NewHbar(0)).
		FreezeWith(h.client)
	if err != nil {
		return Confirmation{}, err
	}
	resp, err := tx.Sign(k.key).Execute(h.client)
	if err != nil {
		return Confirmation{}, err
	}
	receipt, err := resp.GetReceipt(h.client)
	if err != nil {
		return Confirmation{}, err
	}
	if receipt.AccountID == nil {
		return Confirmation{}, fmt.Errorf("account create receipt has no account id")
	}
	return Confirmation{
		SubmittedTxID: resp.TransactionID.String(),
		ReceiptTxID:   receiptTxID(receipt),
		AccountID:     AccountID(receipt.AccountID.String()),
	}, nil
}

func (h *HederaNetwork) AssociateToken(ctx context.Context, account AccountID, token TokenID, key SigningKey) (Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return Confirmation{}, err
	}
	k, ok := key.(hederaKey)
	if !ok {
		return Confirmation{}, fmt.Errorf("associate token: %w", ErrInvalidSignature)
	}
	accountID, err := hedera.AccountIDFromString(string(account))
	if err != nil {
		return Confirmation{}, err
	}
	tokenID, err := hedera.TokenIDFromString(string(token))
	if err != nil {
		return Confirmation{}, err
	}

	tx, err := hedera.NewTokenAssociateTransaction().
		SetAccountID(accountID).
		SetTokenIDs(tokenID).
		FreezeWith(h.client)
	if err != nil {
		return Confirmation{}, err
	}
	resp, err := tx.Sign(k.key).Execute(h.client)
	if err != nil {
		return Confirmation{}, err
	}
	receipt, err := resp.GetReceipt(h.client)
	if err != nil {
		return Confirmation{}, err
	}
	return Confirmation{
		SubmittedTxID: resp.TransactionID.String(),
		ReceiptTxID:   receiptTxID(receipt),
	}, nil
}

func (h *HederaNetwork) Transfer(ctx context.Context, tx TransferTx) (Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return Confirmation{}, err
	}
	signer, ok := tx.Signer.(hederaKey)
	if !ok {
		return Confirmation{}, fmt.Errorf("transfer: %w", ErrInvalidSignature)
	}
	tokenID, err := hedera.TokenIDFromString(string(tx.Token))
	if err != nil {
		return Confirmation{}, err
	}

	transfer := hedera.NewTransferTransaction()
	for _, leg := range tx.Legs {
		accountID, err := hedera.AccountIDFromString(string(leg.Account))
		if err != nil {
			return Confirmation{}, err
		}
		transfer.AddTokenTransfer(tokenID, accountID, leg.Amount)
	}
	frozen, err := transfer.FreezeWith(h.client)
	if err != nil {
		return Confirmation{}, err
	}
	resp, err := frozen.Sign(signer.key).Execute(h.client)
	if err != nil {
		return Confirmation{}, err
	}
	receipt, err := resp.GetReceipt(h.client)
	if err != nil {
		return Confirmation{}, err
	}
	return Confirmation{
		SubmittedTxID: resp.TransactionID.String(),
		ReceiptTxID:   receiptTxID(receipt),
	}, nil
}

func (h *HederaNetwork) Balance(ctx context.Context, account AccountID, token TokenID) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	accountID, err := hedera.AccountIDFromString(string(account))
	if err != nil {
		return 0, false, err
	}
	tokenID, err := hedera.TokenIDFromString(string(token))
	if err != nil {
		return 0, false, err
	}
	balance, err := hedera.NewAccountBalanceQuery().
		SetAccountID(accountID).
		Execute(h.client)
	if err != nil {
		return 0, false, err
	}
	// The SDK reports a missing holding as zero.
	return int64(balance.Tokens.Get(tokenID)), true, nil
}

func (h *HederaNetwork) Close() error {
	return h.client.Close()
}

// receiptTxID returns the transaction id echoed by a consensus receipt, or "" when absent.
func receiptTxID(receipt hedera.TransactionReceipt) string {
	if receipt.TransactionID == nil {
		return ""
	}
	return receipt.TransactionID.String()
}

func (h *HederaNetwork) parseKey(s string) (hedera.PrivateKey, error) {
	switch h.keyType {
	case "ecdsa":
		return hedera.PrivateKeyFromStringECDSA(s)
	case "ed25519":
		return hedera.PrivateKeyFromStringEd25519(s)
	default:
		return hedera.PrivateKeyFromString(s)
	}
}
