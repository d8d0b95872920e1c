package token

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	custody = common.HexToAddress("0x00000000000000000000000000000000000000cd")
	alice   = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob     = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	tok     = common.HexToAddress("0x0000000000000000000000000000000000000101")
)

func TestTransferFromRequiresAllowance(t *testing.T) {
	b := NewBook(custody)
	b.Mint(tok, alice, big.NewInt(100))
	ctx := context.Background()

	err := b.TransferFrom(ctx, tok, alice, custody, big.NewInt(50))
	if !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("err = %v, want %v", err, ErrInsufficientAllowance)
	}

	b.Approve(tok, alice, big.NewInt(60))
	if err := b.TransferFrom(ctx, tok, alice, custody, big.NewInt(50)); err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	// The grant is consumed as it is spent.
	err = b.TransferFrom(ctx, tok, alice, custody, big.NewInt(20))
	if !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("err = %v, want %v", err, ErrInsufficientAllowance)
	}
	if got := b.BalanceOf(tok, custody).Int64(); got != 50 {
		t.Fatalf("custody balance = %d, want 50", got)
	}
}

func TestTransferFromKeepsAllowanceOnInsufficientFunds(t *testing.T) {
	b := NewBook(custody)
	b.Mint(tok, alice, big.NewInt(10))
	b.Approve(tok, alice, big.NewInt(100))
	ctx := context.Background()

	err := b.TransferFrom(ctx, tok, alice, custody, big.NewInt(50))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want %v", err, ErrInsufficientFunds)
	}
	// The failed transfer consumed nothing; the grant still covers a
	// transfer the balance can fund.
	if err := b.TransferFrom(ctx, tok, alice, custody, big.NewInt(10)); err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	if got := b.BalanceOf(tok, custody).Int64(); got != 10 {
		t.Fatalf("custody balance = %d, want 10", got)
	}
}

func TestTransferFromCustodySkipsAllowance(t *testing.T) {
	b := NewBook(custody)
	b.Mint(tok, custody, big.NewInt(100))

	if err := b.TransferFrom(context.Background(), tok, custody, bob, big.NewInt(40)); err != nil {
		t.Fatalf("transfer from custody: %v", err)
	}
	if got := b.BalanceOf(tok, bob).Int64(); got != 40 {
		t.Fatalf("bob balance = %d, want 40", got)
	}
}

func TestTransferSpendsCustody(t *testing.T) {
	b := NewBook(custody)
	b.Mint(tok, custody, big.NewInt(30))
	ctx := context.Background()

	if err := b.Transfer(ctx, tok, alice, big.NewInt(30)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := b.Transfer(ctx, tok, alice, big.NewInt(1)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want %v", err, ErrInsufficientFunds)
	}
}

func TestZeroAndNilAmountsAreNoOps(t *testing.T) {
	b := NewBook(custody)
	ctx := context.Background()

	if err := b.Transfer(ctx, tok, alice, big.NewInt(0)); err != nil {
		t.Fatalf("zero transfer: %v", err)
	}
	if err := b.TransferFrom(ctx, tok, alice, custody, nil); err != nil {
		t.Fatalf("nil transfer from: %v", err)
	}
	if err := b.Transfer(ctx, tok, alice, big.NewInt(-5)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative err = %v, want %v", err, ErrInvalidAmount)
	}
}
