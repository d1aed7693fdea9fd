package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nhatrang-rewards/rewards/internal/apperr"
)

var errTransient = errors.New("BUSY")

func TestProvisionFirstAttempt(t *testing.T) {
	gw, net := newTestGateway(t, 1_000)
	p := NewProvisioner(gw, ProvisionerConfig{Attempts: 3})

	account, err := p.Provision(context.Background())
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if account.ID == "" || account.Key == nil {
		t.Fatalf("expected account id and key, got %+v", account)
	}
	if _, held, _ := net.Balance(context.Background(), account.ID, testToken); !held {
		t.Fatalf("expected account to be associated with the reward token")
	}
	if net.Calls(OpCreateAccount) != 1 {
		t.Fatalf("expected one create call, got %d", net.Calls(OpCreateAccount))
	}
}

func TestProvisionSucceedsOnSecondAttempt(t *testing.T) {
	gw, net := newTestGateway(t, 1_000)
	net.FailNext(OpCreateAccount, errTransient)
	p := NewProvisioner(gw, ProvisionerConfig{Attempts: 3})

	account, err := p.Provision(context.Background())
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if account.ID == "" {
		t.Fatalf("expected an account id")
	}
	if net.Calls(OpCreateAccount) != 2 {
		t.Fatalf("expected 2 create calls, got %d", net.Calls(OpCreateAccount))
	}
}

func TestProvisionExhaustsRetries(t *testing.T) {
	gw, net := newTestGateway(t, 1_000)
	last := errors.New("TRANSACTION_EXPIRED")
	net.FailNext(OpCreateAccount, errTransient, errTransient, last)
	p := NewProvisioner(gw, ProvisionerConfig{Attempts: 3})

	_, err := p.Provision(context.Background())
	if !apperr.Is(err, apperr.KindProvision) {
		t.Fatalf("expected provision error, got %v", err)
	}
	if !errors.Is(err, last) {
		t.Fatalf("expected last cause to be carried, got %v", err)
	}
	if net.Calls(OpCreateAccount) != 3 {
		t.Fatalf("expected exactly 3 create calls, got %d", net.Calls(OpCreateAccount))
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestProvisionSingleAttemptDoesNotRetry(t *testing.T) {
	gw, net := newTestGateway(t, 1_000)
	net.FailNext(OpCreateAccount, errTransient, errTransient)
	p := NewProvisioner(gw, ProvisionerConfig{Attempts: 1})

	if _, err := p.Provision(context.Background()); !errors.Is(err, errTransient) {
		t.Fatalf("expected transient cause, got %v", err)
	}
	if net.Calls(OpCreateAccount) != 1 {
		t.Fatalf("expected one create call, got %d", net.Calls(OpCreateAccount))
	}
}

func TestProvisionRestartsFromCreationAfterAssociateFailure(t *testing.T) {
	gw, net := newTestGateway(t, 1_000)
	net.FailNext(OpAssociateToken, errTransient)
	p := NewProvisioner(gw, ProvisionerConfig{Attempts: 3})

	if _, err := p.Provision(context.Background()); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if net.Calls(OpCreateAccount) != 2 {
		t.Fatalf("expected creation to be redone, got %d create calls", net.Calls(OpCreateAccount))
	}
	if net.Calls(OpAssociateToken) != 2 {
		t.Fatalf("expected 2 associate calls, got %d", net.Calls(OpAssociateToken))
	}
}

func TestProvisionStopsWhenContextCancelled(t *testing.T) {
	gw, net := newTestGateway(t, 1_000)
	net.FailNext(OpCreateAccount, errTransient)
	p := NewProvisioner(gw, ProvisionerConfig{Attempts: 3, RetryDelay: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Provision(ctx)
	if !apperr.Is(err, apperr.KindProvision) {
		t.Fatalf("expected provision error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline cause, got %v", err)
	}
	if net.Calls(OpCreateAccount) != 1 {
		t.Fatalf("expected no retry after cancellation, got %d create calls", net.Calls(OpCreateAccount))
	}
	if !strings.Contains(err.Error(), "after 1 attempt:") {
		t.Fatalf("expected the attempts actually run in the error, got %q", err.Error())
	}
}
