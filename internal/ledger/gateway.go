package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/nhatrang-rewards/rewards/internal/apperr"
	"github.com/nhatrang-rewards/rewards/internal/metrics"
)

// GatewayConfig carries the startup parameters of the ledger gateway.
type GatewayConfig struct {
	Operator    AccountID
	OperatorKey string
	Token       TokenID
	// MaxSubmitsPerSecond paces transaction submissions; zero disables pacing.
	MaxSubmitsPerSecond float64
	Logger              *slog.Logger
}

// Gateway is the process-wide handle on the ledger network. It is immutable after Connect and
// safe for concurrent use.
type Gateway struct {
	net         Network
	operator    AccountID
	operatorKey SigningKey
	token       TokenID
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// Connect installs the operator on the network client and verifies connectivity by reading the
// operator's token balance. Any failure is a connect error.
func Connect(ctx context.Context, net Network, cfg GatewayConfig) (*Gateway, error) {
	if net == nil {
		return nil, apperr.New(apperr.KindConnect, "ledger network client is required", nil)
	}
	if cfg.Operator == "" || cfg.OperatorKey == "" {
		return nil, apperr.New(apperr.KindConnect, "operator account and key are required", nil)
	}
	if cfg.Token == "" {
		return nil, apperr.New(apperr.KindConnect, "reward token id is required", nil)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	key, err := net.SetOperator(cfg.Operator, cfg.OperatorKey)
	if err != nil {
		return nil, apperr.New(apperr.KindConnect, "set ledger operator", err)
	}

	g := &Gateway{
		net:         net,
		operator:    cfg.Operator,
		operatorKey: key,
		token:       cfg.Token,
		logger:      logger,
	}
	if cfg.MaxSubmitsPerSecond > 0 {
		burst := int(cfg.MaxSubmitsPerSecond)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.MaxSubmitsPerSecond), burst)
	}

	balance, err := g.OperatorBalance(ctx)
	if err != nil {
		return nil, apperr.New(apperr.KindConnect, "read operator balance", err)
	}

	logger.Info("ledger gateway ready",
		slog.String("operator", string(cfg.Operator)),
		slog.String("token", string(cfg.Token)),
		slog.Int64("operator_balance", balance),
	)
	return g, nil
}

// Operator returns the operator account id.
func (g *Gateway) Operator() AccountID { return g.operator }

// Token returns the reward token id.
func (g *Gateway) Token() TokenID { return g.token }

// Network exposes the underlying client.
func (g *Gateway) Network() Network { return g.net }

// Close releases the network client.
func (g *Gateway) Close() error {
	return g.net.Close()
}

// BalanceOf returns the reward token balance held by account. An account without a holding
// record has a balance of zero.
func (g *Gateway) BalanceOf(ctx context.Context, account AccountID) (int64, error) {
	if account == "" {
		return 0, apperr.Validation("account id is required")
	}
	start := time.Now()
	amount, held, err := g.net.Balance(ctx, account, g.token)
	metrics.ObserveLedgerCall("balance", start, err)
	if err != nil {
		return 0, apperr.New(apperr.KindQuery, fmt.Sprintf("query balance of %s", account), err)
	}
	if !held {
		return 0, nil
	}
	return amount, nil
}

// OperatorBalance returns the reward token balance of the operator account.
func (g *Gateway) OperatorBalance(ctx context.Context) (int64, error) {
	balance, err := g.BalanceOf(ctx, g.operator)
	if err == nil {
		metrics.SetOperatorBalance(balance)
	}
	return balance, err
}

// pace blocks until the submission limiter admits another transaction.
func (g *Gateway) pace(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.Wait(ctx)
}
