package types

import (
	"math/big"
	"strings"
)

// BasisPoints is the fixed-point denominator used for every ratio carried in
// state (risk profiles, loan ratios, quorums). 10_000 corresponds to 1.0.
const BasisPoints = 10_000

// NormalizeName canonicalises a cooperative name for storage lookups. Names
// are case-insensitive and surrounding whitespace is ignored.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// TokenAmount pairs a whitelisted asset identifier with an amount. Amounts are
// expressed as big integers to match on-ledger precision; entries are unique
// per asset within any containing slice, and an amount of zero means
// "withdrawn", not "absent".
type TokenAmount struct {
	AssetID uint64
	Amount  *big.Int
}

// RiskProfile groups the cooperative-wide lending knobs, expressed in basis
// points for deterministic accounting.
type RiskProfile struct {
	// InterestRateBps is the nominal interest rate applied to new loans.
	InterestRateBps uint64
	// CollateralizationRatioBps scales USD-valued collateral into the
	// maximum borrowable value.
	CollateralizationRatioBps uint64
}

// WhitelistedToken describes an asset a cooperative accepts for contributions
// and collateral. Records are immutable once created except via governance
// addition.
type WhitelistedToken struct {
	// AssetID is the globally unique identifier assigned by the asset
	// registry when the token is whitelisted.
	AssetID uint64
	// Denom is the display denomination, also the transfer denom for
	// native assets.
	Denom string
	// ContractAddr holds the bech32 token contract address for
	// externally-custodied assets. Empty for native assets.
	ContractAddr string
	// IsNative distinguishes chain-native assets from contract tokens.
	IsNative bool
	// MaxLoanRatioBps caps the share of this asset's value usable as
	// collateral.
	MaxLoanRatioBps uint64
}

// Reference returns the external asset reference: the denom for native
// assets, the contract address otherwise.
func (t WhitelistedToken) Reference() string {
	if t.IsNative {
		return t.Denom
	}
	return t.ContractAddr
}

// LoanStatus enumerates the loan lifecycle. Loans are never deleted; only the
// status transitions, preserving the audit trail.
type LoanStatus uint8

const (
	LoanStatusActive LoanStatus = iota
	LoanStatusRepaid
	LoanStatusDefaulted
)

// String implements fmt.Stringer for logging and RPC responses.
func (s LoanStatus) String() string {
	switch s {
	case LoanStatusActive:
		return "active"
	case LoanStatusRepaid:
		return "repaid"
	case LoanStatusDefaulted:
		return "defaulted"
	default:
		return "unknown"
	}
}

// Loan records a collateralized borrow issued against a member's pooled
// contributions. Collateral amounts are immutable after issuance; the
// parallel Collaterals/CollateralAmounts slices mirror the issuance inputs
// exactly and must always agree in length.
type Loan struct {
	// ID is allocated from the protocol-wide monotonic loan counter.
	ID uint64
	// Amount is the borrowed quantity of the loan asset.
	Amount *big.Int
	// AssetID identifies the borrowed asset.
	AssetID uint64
	// Collaterals lists the locked asset ids, index-aligned with
	// CollateralAmounts.
	Collaterals []uint64
	// CollateralAmounts lists the locked quantities per collateral asset.
	CollateralAmounts []*big.Int
	// InterestRateBps is the rate fixed at issuance, ceiling-rounded to a
	// whole percentage.
	InterestRateBps uint64
	// Status tracks the lifecycle phase.
	Status LoanStatus
}

// Member maintains a single participant's position within one cooperative.
// Each Member record is exclusively owned by its Cooperative.
type Member struct {
	// Address is the bech32 account address, unique within a cooperative.
	Address string
	// Contribution holds the deposited balances available as collateral or
	// for withdrawal, one entry per asset.
	Contribution []TokenAmount
	// Share records the member's entitlement to the rewards pools.
	Share []TokenAmount
	// Loans appends every loan ever issued to the member.
	Loans []Loan
	// JoinedAt is the block time (unix seconds) when membership began.
	JoinedAt uint64
	// ReputationScoreBps carries the member's standing; zero on join.
	ReputationScoreBps uint64
}

// ContributionFor returns the index of the member's contribution entry for
// the asset, or -1 when absent.
func (m *Member) ContributionFor(assetID uint64) int {
	for i := range m.Contribution {
		if m.Contribution[i].AssetID == assetID {
			return i
		}
	}
	return -1
}

// CreditContribution adds amount to the member's contribution entry for the
// asset, creating the entry if the member never held the asset or it was
// fully zeroed out.
func (m *Member) CreditContribution(assetID uint64, amount *big.Int) {
	if idx := m.ContributionFor(assetID); idx >= 0 {
		m.Contribution[idx].Amount = new(big.Int).Add(m.Contribution[idx].Amount, amount)
		return
	}
	m.Contribution = append(m.Contribution, TokenAmount{AssetID: assetID, Amount: new(big.Int).Set(amount)})
}

// ShareFor returns the index of the member's share entry for the asset, or -1
// when absent.
func (m *Member) ShareFor(assetID uint64) int {
	for i := range m.Share {
		if m.Share[i].AssetID == assetID {
			return i
		}
	}
	return -1
}

// CreditShare adds amount to the member's share entry for the asset, creating
// the entry when absent.
func (m *Member) CreditShare(assetID uint64, amount *big.Int) {
	if idx := m.ShareFor(assetID); idx >= 0 {
		m.Share[idx].Amount = new(big.Int).Add(m.Share[idx].Amount, amount)
		return
	}
	m.Share = append(m.Share, TokenAmount{AssetID: assetID, Amount: new(big.Int).Set(amount)})
}

// ActiveLoanFor returns the index of the member's active loan denominated in
// the asset, or -1 when none exists.
func (m *Member) ActiveLoanFor(assetID uint64) int {
	for i := range m.Loans {
		if m.Loans[i].Status == LoanStatusActive && m.Loans[i].AssetID == assetID {
			return i
		}
	}
	return -1
}

// Cooperative is a named pool of members sharing collateral, loans, and
// rewards under one risk profile. TotalFunds entries are unique per asset and
// equal the sum of members' non-withdrawn contributions plus the unsent
// rewards pool balance.
type Cooperative struct {
	Name              string
	Members           []Member
	RiskProfile       RiskProfile
	WhitelistedTokens []WhitelistedToken
	TotalFunds        []TokenAmount
}

// MemberIndex returns the position of the member with the address, or -1.
func (c *Cooperative) MemberIndex(address string) int {
	for i := range c.Members {
		if c.Members[i].Address == address {
			return i
		}
	}
	return -1
}

// TokenByReference resolves a whitelisted token by its external reference
// (denom or contract address). Returns -1 when the asset is not whitelisted.
func (c *Cooperative) TokenByReference(ref string) int {
	for i := range c.WhitelistedTokens {
		if c.WhitelistedTokens[i].Reference() == ref {
			return i
		}
	}
	return -1
}

// TokenByAssetID resolves a whitelisted token by its registry asset id.
func (c *Cooperative) TokenByAssetID(assetID uint64) int {
	for i := range c.WhitelistedTokens {
		if c.WhitelistedTokens[i].AssetID == assetID {
			return i
		}
	}
	return -1
}

// FundsFor returns the index of the cooperative's total-funds entry for the
// asset, or -1 when absent.
func (c *Cooperative) FundsFor(assetID uint64) int {
	for i := range c.TotalFunds {
		if c.TotalFunds[i].AssetID == assetID {
			return i
		}
	}
	return -1
}

// CreditFunds adds amount to the cooperative's total-funds entry for the
// asset, creating the entry when absent.
func (c *Cooperative) CreditFunds(assetID uint64, amount *big.Int) {
	if idx := c.FundsFor(assetID); idx >= 0 {
		c.TotalFunds[idx].Amount = new(big.Int).Add(c.TotalFunds[idx].Amount, amount)
		return
	}
	c.TotalFunds = append(c.TotalFunds, TokenAmount{AssetID: assetID, Amount: new(big.Int).Set(amount)})
}

// RewardsPool tracks accrued versus distributed yield for one cooperative and
// one asset. DistributedRewards never exceeds TotalRewards.
type RewardsPool struct {
	CooperativeName    string
	AssetID            uint64
	TotalRewards       *big.Int
	DistributedRewards *big.Int
}

// Price is the latest oracle quote for a whitelisted asset.
type Price struct {
	// USDPrice is the asset-to-USD exchange rate as an integer quote.
	USDPrice *big.Int
	// UpdatedAt is the block time (unix seconds) of the last update.
	UpdatedAt uint64
}

// ProtocolState holds the protocol-wide singleton: the owner identity, the
// conviction escrow token, aggregate pooled funds, and the monotonic id
// counters consumed by cooperatives, proposals and loans.
type ProtocolState struct {
	Owner             string
	WeightToken       string
	TotalCooperatives uint64
	TotalPooledFunds  []TokenAmount
	CurrentProposalID uint64
	CurrentAssetID    uint64
	CurrentLoanID     uint64
}

// PooledFundsFor returns the index of the protocol-wide pooled funds entry
// for the asset, or -1 when absent.
func (s *ProtocolState) PooledFundsFor(assetID uint64) int {
	for i := range s.TotalPooledFunds {
		if s.TotalPooledFunds[i].AssetID == assetID {
			return i
		}
	}
	return -1
}

// CreditPooledFunds adds amount to the protocol-wide pooled funds entry for
// the asset, creating the entry when absent.
func (s *ProtocolState) CreditPooledFunds(assetID uint64, amount *big.Int) {
	if idx := s.PooledFundsFor(assetID); idx >= 0 {
		s.TotalPooledFunds[idx].Amount = new(big.Int).Add(s.TotalPooledFunds[idx].Amount, amount)
		return
	}
	s.TotalPooledFunds = append(s.TotalPooledFunds, TokenAmount{AssetID: assetID, Amount: new(big.Int).Set(amount)})
}

// DebitPooledFunds subtracts amount from the protocol-wide pooled funds
// entry, saturating at zero to match the cooperative ledger's withdrawal
// semantics.
func (s *ProtocolState) DebitPooledFunds(assetID uint64, amount *big.Int) {
	idx := s.PooledFundsFor(assetID)
	if idx < 0 {
		return
	}
	updated := new(big.Int).Sub(s.TotalPooledFunds[idx].Amount, amount)
	if updated.Sign() < 0 {
		updated = big.NewInt(0)
	}
	s.TotalPooledFunds[idx].Amount = updated
}

// Coin is a native asset quantity attached to an inbound call, mirroring the
// funds a caller sends alongside a transaction.
type Coin struct {
	Denom  string
	Amount *big.Int
}

// FindCoin returns the first coin with the denom, or nil.
func FindCoin(coins []Coin, denom string) *Coin {
	for i := range coins {
		if coins[i].Denom == denom {
			return &coins[i]
		}
	}
	return nil
}
