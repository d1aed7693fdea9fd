package rewards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nhatrang-rewards/rewards/internal/apperr"
	"github.com/nhatrang-rewards/rewards/internal/ledger"
	"github.com/nhatrang-rewards/rewards/internal/notification"
	"github.com/nhatrang-rewards/rewards/internal/users"
)

// DefaultWelcomeBonus is credited to every newly registered member.
const DefaultWelcomeBonus int64 = 50

// registrationTimeout bounds a shared registration run once it is detached from its caller.
const registrationTimeout = 2 * time.Minute

// Provisioner creates reward-token-ready ledger accounts.
type Provisioner interface {
	Provision(ctx context.Context) (ledger.Account, error)
}

// Transferer moves reward tokens from the operator to a recipient.
type Transferer interface {
	Transfer(ctx context.Context, recipient ledger.AccountID, amount int64) (ledger.TransferRecord, error)
}

// BalanceReader reads reward token balances from the ledger.
type BalanceReader interface {
	BalanceOf(ctx context.Context, account ledger.AccountID) (int64, error)
	OperatorBalance(ctx context.Context) (int64, error)
}

// Options tunes the service. Zero values select defaults.
type Options struct {
	WelcomeBonus int64
	Notifier     notification.Notifier
	Logger       *slog.Logger
}

// Service composes the ledger and the member registry into the loyalty workflows.
type Service struct {
	users        users.Repository
	provisioner  Provisioner
	transfers    Transferer
	balances     BalanceReader
	notifier     notification.Notifier
	logger       *slog.Logger
	welcomeBonus int64
	inflight     singleflight.Group
}

// NewService builds the loyalty service.
func NewService(repo users.Repository, provisioner Provisioner, transfers Transferer, balances BalanceReader, opts Options) *Service {
	if opts.WelcomeBonus <= 0 {
		opts.WelcomeBonus = DefaultWelcomeBonus
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		users:        repo,
		provisioner:  provisioner,
		transfers:    transfers,
		balances:     balances,
		notifier:     opts.Notifier,
		logger:       opts.Logger,
		welcomeBonus: opts.WelcomeBonus,
	}
}

// RegisterInput captures the data needed to enrol a member.
type RegisterInput struct {
	Phone string
	Name  string
}

// Registration is the outcome of RegisterUser.
type Registration struct {
	User users.User
	// Existing is true when the phone was already registered and nothing was provisioned.
	Existing        bool
	TransactionID   string
	PlaceholderTxID bool
	WelcomeBonus    int64
}

// Credit is the outcome of CreditByPhone.
type Credit struct {
	User            users.User
	Points          int64
	TransactionID   string
	PlaceholderTxID bool
}

// AccountCredit is the outcome of CreditAccount.
type AccountCredit struct {
	AccountID       string
	Points          int64
	TransactionID   string
	PlaceholderTxID bool
	NewBalance      int64
}

// RegisterUser enrols a member: provision a ledger account, credit the welcome bonus, then
// record the member. Registering a known phone returns the stored member untouched. Concurrent
// registrations of one phone share a single provisioning run, which outlives the caller that
// started it so the other waiters are not cancelled with it. When the member cannot be recorded
// after the welcome bonus is issued, the returned Registration carries the transaction id.
func (s *Service) RegisterUser(ctx context.Context, input RegisterInput) (Registration, error) {
	phone := strings.TrimSpace(input.Phone)
	if phone == "" {
		return Registration{}, apperr.Validation("phone is required")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = "Customer " + phone
	}

	shared := context.WithoutCancel(ctx)
	v, err, _ := s.inflight.Do(phone, func() (any, error) {
		runCtx, cancel := context.WithTimeout(shared, registrationTimeout)
		defer cancel()
		return s.register(runCtx, phone, name)
	})
	reg, _ := v.(Registration)
	return reg, err
}

func (s *Service) register(ctx context.Context, phone, name string) (Registration, error) {
	existing, err := s.users.FindByPhone(ctx, phone)
	if err == nil {
		s.logger.Info("member already registered",
			slog.String("phone", phone),
			slog.String("account_id", existing.AccountID),
		)
		return Registration{User: existing, Existing: true}, nil
	}
	if !errors.Is(err, users.ErrNotFound) {
		return Registration{}, fmt.Errorf("lookup member %s: %w", phone, err)
	}

	account, err := s.provisioner.Provision(ctx)
	if err != nil {
		return Registration{}, err
	}

	record, err := s.transfers.Transfer(ctx, account.ID, s.welcomeBonus)
	if err != nil {
		s.logger.Warn("abandoning ledger account after failed welcome credit",
			slog.String("phone", phone),
			slog.String("account_id", string(account.ID)),
			slog.Any("error", err),
		)
		return Registration{}, err
	}

	saved, err := s.users.Upsert(ctx, users.User{
		Phone:        phone,
		Name:         name,
		AccountID:    string(account.ID),
		Points:       s.welcomeBonus,
		Transactions: []string{record.TransactionID},
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("welcome bonus issued but member not recorded",
			slog.String("phone", phone),
			slog.String("account_id", string(account.ID)),
			slog.String("transaction_id", record.TransactionID),
			slog.Any("error", err),
		)
		return Registration{
			TransactionID:   record.TransactionID,
			PlaceholderTxID: record.Placeholder,
			WelcomeBonus:    s.welcomeBonus,
		}, fmt.Errorf("record member %s: %w", phone, err)
	}

	s.logger.Info("member registered",
		slog.String("phone", phone),
		slog.String("account_id", saved.AccountID),
		slog.String("transaction_id", record.TransactionID),
		slog.Int64("welcome_bonus", s.welcomeBonus),
	)
	s.notify(ctx, notification.Message{
		Kind:        notification.KindWelcomeBonus,
		Destination: phone,
		Body:        fmt.Sprintf("Welcome! %d points have been added to your account %s", s.welcomeBonus, saved.AccountID),
	})

	return Registration{
		User:            saved,
		TransactionID:   record.TransactionID,
		PlaceholderTxID: record.Placeholder,
		WelcomeBonus:    s.welcomeBonus,
	}, nil
}

// CreditByPhone transfers points to a registered member and records them. When the registry
// update fails after the transfer, the returned Credit carries the transaction id.
func (s *Service) CreditByPhone(ctx context.Context, phone string, points int64) (Credit, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return Credit{}, apperr.Validation("phone is required")
	}
	if err := validatePoints(points); err != nil {
		return Credit{}, err
	}

	member, err := s.FindByPhone(ctx, phone)
	if err != nil {
		return Credit{}, err
	}

	record, err := s.transfers.Transfer(ctx, ledger.AccountID(member.AccountID), points)
	if err != nil {
		return Credit{}, err
	}

	updated, err := s.users.Credit(ctx, phone, points, record.TransactionID)
	if err != nil {
		s.logger.Error("points transferred but member not updated",
			slog.String("phone", phone),
			slog.String("transaction_id", record.TransactionID),
			slog.Int64("points", points),
			slog.Any("error", err),
		)
		return Credit{
			User:            member,
			Points:          points,
			TransactionID:   record.TransactionID,
			PlaceholderTxID: record.Placeholder,
		}, fmt.Errorf("record credit for %s: %w", phone, err)
	}

	s.notify(ctx, notification.Message{
		Kind:        notification.KindPointsCredited,
		Destination: phone,
		Body:        fmt.Sprintf("You received %d points. Balance: %d", points, updated.Points),
	})

	return Credit{
		User:            updated,
		Points:          points,
		TransactionID:   record.TransactionID,
		PlaceholderTxID: record.Placeholder,
	}, nil
}

// CreditAccount transfers points straight to a ledger account, bypassing the registry, and
// reports the balance read back from the ledger. When the read-back fails the transfer has
// still happened and the returned result carries its transaction id.
func (s *Service) CreditAccount(ctx context.Context, accountID string, points int64) (AccountCredit, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return AccountCredit{}, apperr.Validation("account id is required")
	}
	if err := validatePoints(points); err != nil {
		return AccountCredit{}, err
	}

	record, err := s.transfers.Transfer(ctx, ledger.AccountID(accountID), points)
	if err != nil {
		return AccountCredit{}, err
	}
	result := AccountCredit{
		AccountID:       accountID,
		Points:          points,
		TransactionID:   record.TransactionID,
		PlaceholderTxID: record.Placeholder,
	}

	balance, err := s.balances.BalanceOf(ctx, ledger.AccountID(accountID))
	if err != nil {
		return result, err
	}
	result.NewBalance = balance
	return result, nil
}

// FindByPhone returns the registered member for phone.
func (s *Service) FindByPhone(ctx context.Context, phone string) (users.User, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return users.User{}, apperr.Validation("phone is required")
	}
	member, err := s.users.FindByPhone(ctx, phone)
	if errors.Is(err, users.ErrNotFound) {
		return users.User{}, apperr.New(apperr.KindNotFound, fmt.Sprintf("no member registered with phone %s", phone), nil)
	}
	if err != nil {
		return users.User{}, fmt.Errorf("lookup member %s: %w", phone, err)
	}
	return member, nil
}

// Balance returns the reward token balance of a ledger account.
func (s *Service) Balance(ctx context.Context, accountID string) (int64, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return 0, apperr.Validation("account id is required")
	}
	return s.balances.BalanceOf(ctx, ledger.AccountID(accountID))
}

// OperatorBalance returns the remaining reward token supply held by the operator.
func (s *Service) OperatorBalance(ctx context.Context) (int64, error) {
	return s.balances.OperatorBalance(ctx)
}

// ParsePoints converts a transport-level points value to a positive integer.
func ParsePoints(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, apperr.Validation("points is required")
	}
	points, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.Validation(fmt.Sprintf("points must be an integer, got %q", raw))
	}
	if err := validatePoints(points); err != nil {
		return 0, err
	}
	return points, nil
}

func validatePoints(points int64) error {
	if points <= 0 {
		return apperr.Validation("points must be a positive integer")
	}
	return nil
}

func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("notification failed", slog.String("kind", msg.Kind), slog.Any("error", err))
	}
}
