package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/nhatrang-rewards/rewards/internal/apperr"
	"github.com/nhatrang-rewards/rewards/internal/metrics"
)

const (
	defaultProvisionAttempts = 3
	defaultRetryDelay        = 2 * time.Second
	defaultSettlingDelay     = 2 * time.Second
)

// ProvisionerConfig tunes the provisioning pipeline.
type ProvisionerConfig struct {
	// Attempts bounds the number of full create+associate attempts.
	Attempts int
	// RetryDelay is the constant pause after a failed attempt.
	RetryDelay time.Duration
	// SettlingDelay is the pause after association is confirmed, covering the window in which
	// the association is confirmed but not yet visible to a transfer.
	SettlingDelay time.Duration
}

// DefaultProvisionerConfig returns three attempts with two second retry and settling delays.
func DefaultProvisionerConfig() ProvisionerConfig {
	return ProvisionerConfig{
		Attempts:      defaultProvisionAttempts,
		RetryDelay:    defaultRetryDelay,
		SettlingDelay: defaultSettlingDelay,
	}
}

// Provisioner creates ledger accounts associated with the reward token.
type Provisioner struct {
	gw     *Gateway
	cfg    ProvisionerConfig
	logger *slog.Logger
}

// NewProvisioner builds a provisioner on top of the gateway. Non-positive attempts fall back to
// the default; negative delays are treated as zero.
func NewProvisioner(gw *Gateway, cfg ProvisionerConfig) *Provisioner {
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultProvisionAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.SettlingDelay < 0 {
		cfg.SettlingDelay = 0
	}
	return &Provisioner{gw: gw, cfg: cfg, logger: gw.logger}
}

// Provision creates a new account and associates it with the reward token. A failure at any
// step restarts the whole sequence with a new key and a new account; accounts created by failed
// attempts are abandoned.
func (p *Provisioner) Provision(ctx context.Context) (Account, error) {
	provisionID := uuid.NewString()
	var (
		account  Account
		attempts int
	)

	run := func() error {
		attempts++
		logger := p.attemptLogger(provisionID, attempts)
		created, err := p.attempt(ctx, logger)
		if err != nil {
			return err
		}
		account = created
		return nil
	}
	notify := func(err error, wait time.Duration) {
		metrics.RecordProvisionAttempt("retried")
		p.attemptLogger(provisionID, attempts).Warn("ledger account provisioning failed, retrying",
			slog.Any("error", err),
			slog.Duration("retry_delay", wait),
		)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.cfg.RetryDelay), uint64(p.cfg.Attempts-1)),
		ctx,
	)
	err := backoff.RetryNotify(run, policy, notify)
	if err == nil {
		metrics.RecordProvisionAttempt("succeeded")
		return account, nil
	}

	if ctx.Err() == nil {
		metrics.RecordProvisionAttempt("exhausted")
	}
	p.attemptLogger(provisionID, attempts).Error("ledger account provisioning gave up", slog.Any("error", err))
	return Account{}, apperr.New(apperr.KindProvision,
		fmt.Sprintf("create ledger account after %d %s", attempts, plural(attempts, "attempt")), err)
}

func (p *Provisioner) attemptLogger(provisionID string, attempt int) *slog.Logger {
	return p.logger.With(
		slog.String("provision_id", provisionID),
		slog.Int("attempt", attempt),
		slog.Int("max_attempts", p.cfg.Attempts),
	)
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func (p *Provisioner) attempt(ctx context.Context, logger *slog.Logger) (Account, error) {
	key, err := p.gw.net.GenerateKey()
	if err != nil {
		return Account{}, fmt.Errorf("generate key: %w", err)
	}

	if err := p.gw.pace(ctx); err != nil {
		return Account{}, err
	}
	start := time.Now()
	created, err := p.gw.net.CreateAccount(ctx, key)
	metrics.ObserveLedgerCall("create_account", start, err)
	if err != nil {
		return Account{}, fmt.Errorf("create account: %w", err)
	}
	if created.AccountID == "" {
		return Account{}, fmt.Errorf("create account: receipt carried no account id")
	}
	logger.Info("ledger account created", slog.String("account_id", string(created.AccountID)))

	if err := p.gw.pace(ctx); err != nil {
		return Account{}, err
	}
	start = time.Now()
	_, err = p.gw.net.AssociateToken(ctx, created.AccountID, p.gw.token, key)
	metrics.ObserveLedgerCall("associate_token", start, err)
	if err != nil {
		return Account{}, fmt.Errorf("associate token with %s: %w", created.AccountID, err)
	}
	logger.Info("reward token associated",
		slog.String("account_id", string(created.AccountID)),
		slog.Duration("settling_delay", p.cfg.SettlingDelay),
	)

	if err := sleep(ctx, p.cfg.SettlingDelay); err != nil {
		return Account{}, err
	}
	return Account{ID: created.AccountID, Key: key}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
