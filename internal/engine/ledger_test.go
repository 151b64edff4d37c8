package engine

import (
	"context"
	"errors"
	"testing"
)

func TestCreditAddsMinutes(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addUser("user-1", 30)
	service := mustNewService(test, store)

	if err := service.Credit(context.Background(), "user-1", 90); err != nil {
		test.Fatalf("credit: %v", err)
	}
	balance, err := service.Balance(context.Background(), "user-1")
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance.Minutes != 120 {
		test.Fatalf("expected 120 minutes, got %d", balance.Minutes)
	}
	if balance.Hours() != 2 {
		test.Fatalf("expected 2 hours, got %v", balance.Hours())
	}
}

func TestDebitRefusesOverdraw(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addUser("user-1", 59)
	service := mustNewService(test, store)

	err := service.Debit(context.Background(), "user-1", 60)
	if !errors.Is(err, ErrInsufficientBalance) {
		test.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	balance, _ := service.Balance(context.Background(), "user-1")
	if balance.Minutes != 59 {
		test.Fatalf("balance mutated on failed debit: %d", balance.Minutes)
	}
}

func TestDebitToExactlyZero(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addUser("user-1", 60)
	service := mustNewService(test, store)

	if err := service.Debit(context.Background(), "user-1", 60); err != nil {
		test.Fatalf("debit: %v", err)
	}
	balance, _ := service.Balance(context.Background(), "user-1")
	if balance.Minutes != 0 {
		test.Fatalf("expected 0 minutes, got %d", balance.Minutes)
	}
}

func TestLedgerRejectsNonPositiveAmounts(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addUser("user-1", 100)
	service := mustNewService(test, store)

	for _, amount := range []int64{0, -5} {
		if err := service.Credit(context.Background(), "user-1", amount); !errors.Is(err, ErrInvalidAmount) {
			test.Fatalf("credit %d: expected ErrInvalidAmount, got %v", amount, err)
		}
		if err := service.Debit(context.Background(), "user-1", amount); !errors.Is(err, ErrInvalidAmount) {
			test.Fatalf("debit %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestLedgerUnknownUser(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)

	if err := service.Credit(context.Background(), "ghost", 10); !errors.Is(err, ErrUserNotFound) {
		test.Fatalf("credit: expected ErrUserNotFound, got %v", err)
	}
	if err := service.Debit(context.Background(), "ghost", 10); !errors.Is(err, ErrUserNotFound) {
		test.Fatalf("debit: expected ErrUserNotFound, got %v", err)
	}
	if _, err := service.Balance(context.Background(), "ghost"); !errors.Is(err, ErrUserNotFound) {
		test.Fatalf("balance: expected ErrUserNotFound, got %v", err)
	}
}

func TestBootstrapCreatesUserOnce(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)

	first, err := service.Bootstrap(context.Background(), "user-1", "a@example.com", "Alex")
	if err != nil {
		test.Fatalf("bootstrap: %v", err)
	}
	if first.Email != "a@example.com" {
		test.Fatalf("unexpected email %s", first.Email)
	}

	if err := service.Credit(context.Background(), "user-1", 45); err != nil {
		test.Fatalf("credit: %v", err)
	}
	second, err := service.Bootstrap(context.Background(), "user-1", "a@example.com", "Alex")
	if err != nil {
		test.Fatalf("bootstrap again: %v", err)
	}
	if second.Minutes != 45 {
		test.Fatalf("bootstrap reset balance, got %d", second.Minutes)
	}
}
