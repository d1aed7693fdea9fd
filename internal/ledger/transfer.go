package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nhatrang-rewards/rewards/internal/apperr"
	"github.com/nhatrang-rewards/rewards/internal/metrics"
)

var placeholderSeq atomic.Uint64

// Engine moves the reward token from the operator to recipients.
type Engine struct {
	gw *Gateway
}

// NewEngine builds a transfer engine on top of the gateway.
func NewEngine(gw *Gateway) *Engine {
	return &Engine{gw: gw}
}

// Transfer credits amount tokens to recipient and debits the operator in one atomic
// transaction signed by the operator key. The recipient does not sign.
func (e *Engine) Transfer(ctx context.Context, recipient AccountID, amount int64) (TransferRecord, error) {
	if recipient == "" {
		return TransferRecord{}, apperr.Validation("recipient account id is required")
	}
	if amount <= 0 {
		return TransferRecord{}, apperr.Validation("transfer amount must be a positive integer")
	}

	tx := TransferTx{
		Token: e.gw.token,
		Legs: []Leg{
			{Account: recipient, Amount: amount},
			{Account: e.gw.operator, Amount: -amount},
		},
		Signer: e.gw.operatorKey,
	}

	if err := e.gw.pace(ctx); err != nil {
		return TransferRecord{}, apperr.New(apperr.KindTransfer, fmt.Sprintf("transfer %d to %s", amount, recipient), err)
	}
	start := time.Now()
	conf, err := e.gw.net.Transfer(ctx, tx)
	metrics.ObserveLedgerCall("transfer", start, err)
	if err != nil {
		metrics.RecordTransfer("rejected", amount)
		e.gw.logger.Error("reward transfer failed",
			slog.String("recipient", string(recipient)),
			slog.Int64("amount", amount),
			slog.Any("error", err),
		)
		return TransferRecord{}, apperr.New(apperr.KindTransfer, fmt.Sprintf("transfer %d to %s", amount, recipient), err)
	}

	record := resolveTransactionID(conf)
	if record.Placeholder {
		metrics.RecordTransfer("placeholder_id", amount)
		e.gw.logger.Warn("transfer confirmed without transaction id, using placeholder",
			slog.String("recipient", string(recipient)),
			slog.Int64("amount", amount),
			slog.String("transaction_id", record.TransactionID),
		)
		return record, nil
	}

	metrics.RecordTransfer("confirmed", amount)
	e.gw.logger.Info("reward transfer confirmed",
		slog.String("recipient", string(recipient)),
		slog.Int64("amount", amount),
		slog.String("transaction_id", record.TransactionID),
	)
	return record, nil
}

// resolveTransactionID prefers the receipt id, then the submission id, then a local placeholder.
func resolveTransactionID(conf Confirmation) TransferRecord {
	switch {
	case conf.ReceiptTxID != "":
		return TransferRecord{TransactionID: conf.ReceiptTxID}
	case conf.SubmittedTxID != "":
		return TransferRecord{TransactionID: conf.SubmittedTxID}
	default:
		id := fmt.Sprintf("manual-%d-%d", time.Now().UnixNano(), placeholderSeq.Add(1))
		return TransferRecord{TransactionID: id, Placeholder: true}
	}
}
