package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/nhatrang-rewards/rewards/internal/apperr"
	"github.com/nhatrang-rewards/rewards/internal/logging"
)

func TestConnectReadsOperatorBalance(t *testing.T) {
	gw, net := newTestGateway(t, 5_000)

	if net.Calls(OpBalance) != 1 {
		t.Fatalf("expected connect to read the balance once, got %d", net.Calls(OpBalance))
	}
	balance, err := gw.OperatorBalance(context.Background())
	if err != nil {
		t.Fatalf("operator balance: %v", err)
	}
	if balance != 5_000 {
		t.Fatalf("expected 5000, got %d", balance)
	}
}

func TestConnectRejectsWrongOperatorKey(t *testing.T) {
	net := NewMemoryNetwork(testToken, 5_000)
	operator, _ := net.Treasury()

	_, err := Connect(context.Background(), net, GatewayConfig{
		Operator:    operator,
		OperatorKey: "not-the-key",
		Token:       testToken,
		Logger:      logging.Discard(),
	})
	if !apperr.Is(err, apperr.KindConnect) {
		t.Fatalf("expected connect error, got %v", err)
	}
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature cause, got %v", err)
	}
}

func TestConnectFailsWhenNetworkUnreachable(t *testing.T) {
	net := NewMemoryNetwork(testToken, 5_000)
	operator, secret := net.Treasury()
	net.FailNext(OpBalance, errors.New("dial tcp: connection refused"))

	_, err := Connect(context.Background(), net, GatewayConfig{
		Operator:    operator,
		OperatorKey: secret,
		Token:       testToken,
		Logger:      logging.Discard(),
	})
	if !apperr.Is(err, apperr.KindConnect) {
		t.Fatalf("expected connect error, got %v", err)
	}
}

func TestBalanceOfWithoutHoldingIsZero(t *testing.T) {
	gw, net := newTestGateway(t, 5_000)
	key, _ := net.GenerateKey()
	conf, err := net.CreateAccount(context.Background(), key)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	balance, err := gw.BalanceOf(context.Background(), conf.AccountID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected 0, got %d", balance)
	}
}

func TestBalanceOfQueryFailure(t *testing.T) {
	gw, net := newTestGateway(t, 5_000)
	net.FailNext(OpBalance, errors.New("PLATFORM_NOT_ACTIVE"))

	if _, err := gw.BalanceOf(context.Background(), gw.Operator()); !apperr.Is(err, apperr.KindQuery) {
		t.Fatalf("expected query error, got %v", err)
	}
	if _, err := gw.BalanceOf(context.Background(), "0.0.424242"); !apperr.Is(err, apperr.KindQuery) {
		t.Fatalf("expected query error for unknown account, got %v", err)
	}
}
