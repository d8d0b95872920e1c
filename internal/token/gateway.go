package token

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Gateway moves fungible-token balances on behalf of the ledger. The transfer
// mechanism itself lives outside the core; any error returned here aborts the
// enclosing ledger operation.
type Gateway interface {
	// Transfer moves amount of token out of ledger custody to the recipient.
	Transfer(ctx context.Context, token, to common.Address, amount *big.Int) error
	// TransferFrom moves amount of token between two accounts. The source
	// must have authorized the ledger for at least amount beforehand.
	TransferFrom(ctx context.Context, token, from, to common.Address, amount *big.Int) error
}
