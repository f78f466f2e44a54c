package bank

import (
	"math/big"

	"coopchain/crypto"
)

// InstructionKind distinguishes the transfer primitives the external asset
// system executes on the core's behalf.
type InstructionKind uint8

const (
	// KindNativeSend moves native coins between an account and the
	// protocol's custodial address.
	KindNativeSend InstructionKind = iota
	// KindTokenTransfer moves token balances held by the protocol.
	KindTokenTransfer
	// KindTokenTransferFrom pulls token balances from an owner under a
	// previously granted allowance.
	KindTokenTransferFrom
)

// Instruction is one transfer the external asset system must execute after
// the owning state transition commits. Instructions are emitted, never
// executed inline; the pre-flight checks in the engines make up for the
// asynchronous settlement of token transfers.
type Instruction struct {
	Kind InstructionKind
	// Denom is set for native sends.
	Denom string
	// Token is the contract address for token transfers.
	Token string
	// From is the debited account (the allowance owner for transfer-from).
	From crypto.Address
	// To is the credited account.
	To     crypto.Address
	Amount *big.Int
}

// NativeSend builds a native coin transfer instruction.
func NativeSend(denom string, from, to crypto.Address, amount *big.Int) Instruction {
	return Instruction{Kind: KindNativeSend, Denom: denom, From: from, To: to, Amount: new(big.Int).Set(amount)}
}

// TokenTransfer builds a direct token transfer instruction.
func TokenTransfer(token string, from, to crypto.Address, amount *big.Int) Instruction {
	return Instruction{Kind: KindTokenTransfer, Token: token, From: from, To: to, Amount: new(big.Int).Set(amount)}
}

// TokenTransferFrom builds an allowance-backed token pull instruction.
func TokenTransferFrom(token string, owner, to crypto.Address, amount *big.Int) Instruction {
	return Instruction{Kind: KindTokenTransferFrom, Token: token, From: owner, To: to, Amount: new(big.Int).Set(amount)}
}

// Querier answers the balance questions the engines must settle before
// emitting instructions. Native balances are keyed by denom, token balances
// by contract address. Implementations bridge to the external asset system.
type Querier interface {
	// NativeBalance returns the denom balance held by the account.
	NativeBalance(denom string, addr crypto.Address) (*big.Int, error)
	// TokenBalance returns the token balance held by the account.
	TokenBalance(token string, addr crypto.Address) (*big.Int, error)
	// TokenAllowance returns the amount the spender may pull from the
	// owner's token balance.
	TokenAllowance(token string, owner, spender crypto.Address) (*big.Int, error)
}
