package token

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientFunds     = errors.New("token book: insufficient balance")
	ErrInsufficientAllowance = errors.New("token book: insufficient allowance")
	ErrInvalidAmount         = errors.New("token book: amount must not be negative")
)

// Book is an in-memory balance and allowance ledger implementing Gateway.
// Allowances are granted to the custody account; TransferFrom spends them.
type Book struct {
	mu         sync.Mutex
	custody    common.Address
	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

// NewBook builds an empty book whose Transfer side debits the given custody
// account.
func NewBook(custody common.Address) *Book {
	return &Book{
		custody:    custody,
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Mint credits a holder's balance out of thin air. Test and replay seeding
// only.
func (b *Book) Mint(tok, to common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.balance(tok, to)
	bal.Add(bal, amount)
}

// Approve grants the custody account an allowance over the owner's balance,
// replacing any prior grant.
func (b *Book) Approve(tok, owner common.Address, amount *big.Int) {
	if amount == nil {
		amount = big.NewInt(0)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	holders, ok := b.allowances[tok]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		b.allowances[tok] = holders
	}
	holders[owner] = new(big.Int).Set(amount)
}

// BalanceOf reads a holder's balance.
func (b *Book) BalanceOf(tok, holder common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.balance(tok, holder))
}

// Transfer moves funds held in custody to the recipient.
func (b *Book) Transfer(_ context.Context, tok, to common.Address, amount *big.Int) error {
	return b.move(tok, b.custody, to, amount)
}

// TransferFrom moves funds between accounts, spending the source's allowance
// unless the source is the custody account itself. The allowance is only
// consumed when the transfer goes through.
func (b *Book) TransferFrom(_ context.Context, tok, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	src := b.balance(tok, from)
	if src.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	if from != b.custody {
		allowance := b.allowance(tok, from)
		if allowance.Cmp(amount) < 0 {
			return ErrInsufficientAllowance
		}
		allowance.Sub(allowance, amount)
	}
	src.Sub(src, amount)
	dst := b.balance(tok, to)
	dst.Add(dst, amount)
	return nil
}

func (b *Book) move(tok, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	src := b.balance(tok, from)
	if src.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	src.Sub(src, amount)
	dst := b.balance(tok, to)
	dst.Add(dst, amount)
	return nil
}

// balance returns the mutable balance cell, creating it at zero. Callers hold
// b.mu.
func (b *Book) balance(tok, holder common.Address) *big.Int {
	holders, ok := b.balances[tok]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		b.balances[tok] = holders
	}
	bal, ok := holders[holder]
	if !ok {
		bal = big.NewInt(0)
		holders[holder] = bal
	}
	return bal
}

func (b *Book) allowance(tok, owner common.Address) *big.Int {
	holders, ok := b.allowances[tok]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		b.allowances[tok] = holders
	}
	allowance, ok := holders[owner]
	if !ok {
		allowance = big.NewInt(0)
		holders[owner] = allowance
	}
	return allowance
}
