package core

import "testing"

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Cents: 0}).Validate(); err == nil {
		t.Fatalf("expected error for zero")
	}
	if err := (Money{Cents: -50}).Validate(); err == nil {
		t.Fatalf("expected error for negative")
	}
}

func TestTransactionInputValidate(t *testing.T) {
	good := TransactionInput{
		Kind:        Expense,
		Amount:      Money{Cents: 100},
		Description: "groceries",
		Category:    "home",
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []struct {
		name string
		in   TransactionInput
		want error
	}{
		{"bad kind", TransactionInput{Kind: "transfer", Amount: Money{Cents: 1}, Description: "a", Category: "home"}, ErrInvalidKind},
		{"zero amount", TransactionInput{Kind: Income, Amount: Money{Cents: 0}, Description: "a", Category: "home"}, ErrInvalidAmount},
		{"empty description", TransactionInput{Kind: Income, Amount: Money{Cents: 1}, Description: "  ", Category: "home"}, ErrEmptyDescription},
		{"unknown category", TransactionInput{Kind: Income, Amount: Money{Cents: 1}, Description: "a", Category: "misc"}, ErrInvalidCategory},
	}
	for _, tc := range bads {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.in.Validate(); err != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestValidCurrency(t *testing.T) {
	for _, code := range Currencies {
		if !ValidCurrency(code) {
			t.Fatalf("%s should be valid", code)
		}
	}
	if ValidCurrency("GBP") {
		t.Fatal("GBP is not in the allow-list")
	}
	if ValidCurrency("usd") {
		t.Fatal("codes are case-sensitive")
	}
}

func TestDefaultName(t *testing.T) {
	cases := []struct {
		email, want string
	}{
		{"ana@example.com", "ana"},
		{"no-at-sign", "no-at-sign"},
		{"a@b@c", "a"},
	}
	for _, tc := range cases {
		if got := DefaultName(tc.email); got != tc.want {
			t.Fatalf("DefaultName(%q) = %q, want %q", tc.email, got, tc.want)
		}
	}
}
