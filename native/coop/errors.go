package coop

import (
	"errors"
)

// Shared protocol error taxonomy. Every state transition aborts atomically
// with one of these sentinels (possibly wrapped) so callers can decide
// whether a failure is retryable (value failures after refreshing state) or
// permanent (rejected proposals, structural corruption).
var (
	// Authorization failures.
	ErrUnauthorized = errors.New("coop: unauthorized")

	// Not-found failures.
	ErrCooperativeNotFound = errors.New("coop: cooperative not found")
	ErrMemberNotFound      = errors.New("coop: member not found")
	ErrProposalNotFound    = errors.New("coop: proposal not found")

	// State-conflict failures.
	ErrCooperativeExists       = errors.New("coop: cooperative with this name already exists")
	ErrAlreadyMember           = errors.New("coop: already a member")
	ErrAlreadyVoted            = errors.New("coop: already voted")
	ErrTokenWhitelisted        = errors.New("coop: token already whitelisted")
	ErrProposalAlreadyExecuted = errors.New("coop: proposal already executed")
	ErrProposalEnded           = errors.New("coop: proposal already ended")
	ErrProposalRejected        = errors.New("coop: proposal was rejected")
	ErrProposalInProcess       = errors.New("coop: proposal is in process")
	ErrMaxWhitelistedTokens    = errors.New("coop: max whitelisted tokens reached")

	// Value / invariant failures.
	ErrNoFunds                = errors.New("coop: no funds")
	ErrFundsMustMatchAmount   = errors.New("coop: funds must match amount")
	ErrInvalidFundAmount      = errors.New("coop: fund must match amount")
	ErrInsufficientFunds      = errors.New("coop: insufficient funds")
	ErrInsufficientCollateral = errors.New("coop: insufficient collateral")
	ErrInsufficientPoolFunds  = errors.New("coop: insufficient pool funds")
	ErrInsufficientRewards    = errors.New("coop: insufficient rewards")
	ErrNoContribution         = errors.New("coop: no contribution recorded")
	ErrNoActiveLoan           = errors.New("coop: no active loan")
	ErrNoWeightsToWithdraw    = errors.New("coop: no weight to withdraw")

	// Structural failures.
	ErrInvalidToken      = errors.New("coop: invalid token")
	ErrInvalidCollateral = errors.New("coop: invalid collateral record")
	ErrInvalidInput      = errors.New("coop: invalid input")
	ErrInvalidProposal   = errors.New("coop: invalid proposal")

	// Reserved proposal kinds.
	ErrNotImplemented = errors.New("coop: feature not implemented")
)

// ErrorCategory buckets the taxonomy for transport-layer code mapping.
type ErrorCategory int

const (
	CategoryUnknown ErrorCategory = iota
	CategoryUnauthorized
	CategoryNotFound
	CategoryConflict
	CategoryValue
	CategoryStructural
)

// Categorize maps a protocol error to its taxonomy bucket. Wrapped errors are
// unwrapped via errors.Is.
func Categorize(err error) ErrorCategory {
	switch {
	case err == nil:
		return CategoryUnknown
	case errors.Is(err, ErrUnauthorized):
		return CategoryUnauthorized
	case errors.Is(err, ErrCooperativeNotFound),
		errors.Is(err, ErrMemberNotFound),
		errors.Is(err, ErrProposalNotFound):
		return CategoryNotFound
	case errors.Is(err, ErrCooperativeExists),
		errors.Is(err, ErrAlreadyMember),
		errors.Is(err, ErrAlreadyVoted),
		errors.Is(err, ErrTokenWhitelisted),
		errors.Is(err, ErrProposalAlreadyExecuted),
		errors.Is(err, ErrProposalEnded),
		errors.Is(err, ErrProposalRejected),
		errors.Is(err, ErrProposalInProcess),
		errors.Is(err, ErrMaxWhitelistedTokens):
		return CategoryConflict
	case errors.Is(err, ErrNoFunds),
		errors.Is(err, ErrFundsMustMatchAmount),
		errors.Is(err, ErrInvalidFundAmount),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInsufficientCollateral),
		errors.Is(err, ErrInsufficientPoolFunds),
		errors.Is(err, ErrInsufficientRewards),
		errors.Is(err, ErrNoContribution),
		errors.Is(err, ErrNoActiveLoan),
		errors.Is(err, ErrNoWeightsToWithdraw):
		return CategoryValue
	case errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrInvalidCollateral),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInvalidProposal),
		errors.Is(err, ErrNotImplemented):
		return CategoryStructural
	default:
		return CategoryUnknown
	}
}
