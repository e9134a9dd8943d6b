package state

import (
	"bytes"
	"fmt"
	"math/big"

	"granary/crypto"
)

// TokenLedger adapts the manager's token records to a module-account view:
// inbound transfers credit the module address, outbound transfers and the pot
// balance read from it. It satisfies the ledger interfaces the yield engine
// consumes.
type TokenLedger struct {
	manager *Manager
	symbol  string
	module  crypto.Address
}

// NewTokenLedger binds a token symbol and module account to the manager.
func NewTokenLedger(manager *Manager, symbol string, module crypto.Address) *TokenLedger {
	return &TokenLedger{manager: manager, symbol: symbol, module: module}
}

// Symbol returns the token this ledger operates on.
func (l *TokenLedger) Symbol() string { return l.symbol }

// ModuleAddress returns the account holding the ledger's pot.
func (l *TokenLedger) ModuleAddress() crypto.Address { return l.module }

// BalanceOf reports the holder's token balance.
func (l *TokenLedger) BalanceOf(holder crypto.Address) (*big.Int, error) {
	return l.manager.Balance(holder.Bytes(), l.symbol)
}

// PotBalance reports the module account's token balance.
func (l *TokenLedger) PotBalance() (*big.Int, error) {
	return l.manager.Balance(l.module.Bytes(), l.symbol)
}

// TransferIn moves amount from the payer into the module account.
func (l *TokenLedger) TransferIn(payer crypto.Address, amount *big.Int) error {
	return l.manager.Transfer(payer.Bytes(), l.module.Bytes(), l.symbol, amount)
}

// TransferOut moves amount from the module account to the recipient.
func (l *TokenLedger) TransferOut(recipient crypto.Address, amount *big.Int) error {
	return l.manager.Transfer(l.module.Bytes(), recipient.Bytes(), l.symbol, amount)
}

// Mint issues new tokens directly to the recipient. The module account must
// be the token's configured mint authority.
func (l *TokenLedger) Mint(recipient crypto.Address, amount *big.Int) error {
	return l.manager.Mint(l.module.Bytes(), recipient.Bytes(), l.symbol, amount)
}

// Mintable reports whether the module account could mint the token right
// now, without moving any balance.
func (l *TokenLedger) Mintable() error {
	meta, err := l.manager.Token(l.symbol)
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("token %s not registered", l.symbol)
	}
	if meta.MintPaused {
		return fmt.Errorf("token %s: minting paused", l.symbol)
	}
	if len(meta.MintAuthority) == 0 || !bytes.Equal(meta.MintAuthority, l.module.Bytes()) {
		return fmt.Errorf("token %s: module is not the mint authority", l.symbol)
	}
	return nil
}
