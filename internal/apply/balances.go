package apply

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"peerlend/internal/token"
)

// balanceRecord seeds one holder's balance and ledger allowance for a token.
type balanceRecord struct {
	Token     string `json:"token"`
	Holder    string `json:"holder"`
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
}

// SeedBalances loads a JSONL balances file into the gateway book.
func SeedBalances(path string, book *token.Book) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open balances: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec balanceRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("balances line %d: %w", line, err)
		}
		tok, err := parseAddress(rec.Token)
		if err != nil {
			return fmt.Errorf("balances line %d token: %w", line, err)
		}
		holder, err := parseAddress(rec.Holder)
		if err != nil {
			return fmt.Errorf("balances line %d holder: %w", line, err)
		}
		balance, err := parseBigInt(rec.Balance)
		if err != nil {
			return fmt.Errorf("balances line %d balance: %w", line, err)
		}
		allowance, err := parseBigInt(rec.Allowance)
		if err != nil {
			return fmt.Errorf("balances line %d allowance: %w", line, err)
		}
		book.Mint(tok, holder, balance)
		if allowance.Sign() > 0 {
			book.Approve(tok, holder, allowance)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read balances: %w", err)
	}
	return nil
}
