package coop

import (
	"errors"
	"math/big"
	"strconv"
	"strings"

	"coopchain/core/events"
	"coopchain/core/types"
	"coopchain/crypto"
	"coopchain/native/bank"
)

var (
	errNilState       = errors.New("coop ledger: state not configured")
	errNilQuerier     = errors.New("coop ledger: bank querier not configured")
	errNotInitialised = errors.New("coop ledger: protocol state not initialised")
)

const (
	maxInitialMembers    = 20
	maxWhitelistedTokens = 5
)

type ledgerState interface {
	ProtocolState() (*types.ProtocolState, bool, error)
	PutProtocolState(state *types.ProtocolState) error
	GetCooperative(name string) (*types.Cooperative, bool, error)
	HasCooperative(name string) (bool, error)
	PutCooperative(record *types.Cooperative) error
	GetRewardsPool(name string, assetID uint64) (*types.RewardsPool, bool, error)
	PutRewardsPool(pool *types.RewardsPool) error
	PutAssetID(reference string, id uint64) error
	AddMemberCooperative(address, name string) error
}

// Engine orchestrates cooperative creation and the contribution ledger:
// funding, and joint contribution/reward withdrawal.
type Engine struct {
	state   ledgerState
	querier bank.Querier
	custody crypto.Address
	emitter events.Emitter
}

// NewEngine constructs a ledger engine bound to the protocol custodial
// address.
func NewEngine(custody crypto.Address) *Engine {
	return &Engine{
		custody: custody,
		emitter: events.NoopEmitter{},
	}
}

// SetState wires the engine to the persistence layer.
func (e *Engine) SetState(state ledgerState) { e.state = state }

// SetQuerier wires the engine to the external asset system's balance view.
func (e *Engine) SetQuerier(q bank.Querier) { e.querier = q }

// SetEmitter configures the event emitter. Nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

// CreateCooperative registers a new cooperative, assigns registry ids to its
// initial whitelisted tokens, and indexes the initial members. Initial member
// records start with empty balances regardless of what the caller supplied.
func (e *Engine) CreateCooperative(name string, profile types.RiskProfile, initialMembers []string, initialTokens []types.WhitelistedToken, now uint64) (*types.Cooperative, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	canonical := types.NormalizeName(name)
	if canonical == "" {
		return nil, ErrInvalidInput
	}
	if len(initialMembers) > maxInitialMembers {
		return nil, ErrInvalidInput
	}
	if len(initialTokens) > maxWhitelistedTokens {
		return nil, ErrMaxWhitelistedTokens
	}

	exists, err := e.state.HasCooperative(canonical)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrCooperativeExists
	}

	protocol, ok, err := e.state.ProtocolState()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNotInitialised
	}

	tokens := make([]types.WhitelistedToken, 0, len(initialTokens))
	for _, token := range initialTokens {
		if strings.TrimSpace(token.Denom) == "" {
			return nil, ErrInvalidToken
		}
		if !token.IsNative && strings.TrimSpace(token.ContractAddr) == "" {
			return nil, ErrInvalidToken
		}
		protocol.CurrentAssetID++
		token.AssetID = protocol.CurrentAssetID
		if err := e.state.PutAssetID(token.Reference(), token.AssetID); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}

	members := make([]types.Member, 0, len(initialMembers))
	for _, address := range initialMembers {
		if strings.TrimSpace(address) == "" {
			return nil, ErrInvalidInput
		}
		members = append(members, types.Member{Address: address, JoinedAt: now})
	}

	record := &types.Cooperative{
		Name:              canonical,
		Members:           members,
		RiskProfile:       profile,
		WhitelistedTokens: tokens,
	}

	protocol.TotalCooperatives++

	if err := e.state.PutCooperative(record); err != nil {
		return nil, err
	}
	if err := e.state.PutProtocolState(protocol); err != nil {
		return nil, err
	}
	for _, member := range members {
		if err := e.state.AddMemberCooperative(member.Address, canonical); err != nil {
			return nil, err
		}
	}

	e.emit(events.New(events.TypeCooperativeCreated, "name", canonical))
	return record, nil
}

// Fund deposits a whitelisted asset into the cooperative on behalf of the
// calling member. Native deposits must arrive with matching sent funds;
// token deposits are pre-flighted against balance and allowance before the
// pull instruction is emitted.
func (e *Engine) Fund(name string, caller crypto.Address, assetRef string, amount *big.Int, sentFunds []types.Coin) ([]bank.Instruction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidInput
	}

	record, ok, err := e.state.GetCooperative(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCooperativeNotFound
	}

	tokenIdx := record.TokenByReference(assetRef)
	if tokenIdx < 0 {
		return nil, ErrInvalidToken
	}
	token := record.WhitelistedTokens[tokenIdx]

	var instructions []bank.Instruction
	if token.IsNative {
		coin := types.FindCoin(sentFunds, token.Denom)
		if coin == nil {
			return nil, ErrNoFunds
		}
		if coin.Amount == nil || coin.Amount.Cmp(amount) != 0 {
			return nil, ErrFundsMustMatchAmount
		}
		instructions = append(instructions, bank.NativeSend(token.Denom, caller, e.custody, amount))
	} else {
		if e.querier == nil {
			return nil, errNilQuerier
		}
		balance, err := e.querier.TokenBalance(token.ContractAddr, caller)
		if err != nil {
			return nil, err
		}
		if balance == nil || balance.Cmp(amount) < 0 {
			return nil, ErrInsufficientFunds
		}
		allowance, err := e.querier.TokenAllowance(token.ContractAddr, caller, e.custody)
		if err != nil {
			return nil, err
		}
		if allowance == nil || allowance.Cmp(amount) < 0 {
			return nil, ErrInsufficientFunds
		}
		instructions = append(instructions, bank.TokenTransferFrom(token.ContractAddr, caller, e.custody, amount))
	}

	memberIdx := record.MemberIndex(caller.String())
	if memberIdx < 0 {
		return nil, ErrMemberNotFound
	}

	record.Members[memberIdx].CreditContribution(token.AssetID, amount)
	record.CreditFunds(token.AssetID, amount)

	protocol, ok, err := e.state.ProtocolState()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNotInitialised
	}
	protocol.CreditPooledFunds(token.AssetID, amount)

	if err := e.state.PutCooperative(record); err != nil {
		return nil, err
	}
	if err := e.state.PutProtocolState(protocol); err != nil {
		return nil, err
	}

	e.emit(events.New(events.TypeCooperativeFunded,
		"cooperative", record.Name,
		"member", caller.String(),
		"asset", assetRef,
		"amount", amount.String(),
	))
	return instructions, nil
}

// WithdrawContributionAndReward exits the member's position in one asset:
// the pro-rata reward entitlement is computed against the rewards pool, the
// contribution and share entries are zeroed, and the principal is returned
// via a transfer instruction. The withdrawn principal and the credited
// reward entitlement are returned for the caller's bookkeeping.
func (e *Engine) WithdrawContributionAndReward(name string, caller crypto.Address, assetRef string) ([]bank.Instruction, *big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, nil, errNilState
	}

	record, ok, err := e.state.GetCooperative(name)
	if err != nil {
		return nil, nil, nil, err
	}
	if !ok {
		return nil, nil, nil, ErrCooperativeNotFound
	}

	memberIdx := record.MemberIndex(caller.String())
	if memberIdx < 0 {
		return nil, nil, nil, ErrMemberNotFound
	}
	member := &record.Members[memberIdx]

	tokenIdx := record.TokenByReference(assetRef)
	if tokenIdx < 0 {
		return nil, nil, nil, ErrInvalidToken
	}
	token := record.WhitelistedTokens[tokenIdx]

	contributionIdx := member.ContributionFor(token.AssetID)
	if contributionIdx < 0 {
		return nil, nil, nil, ErrNoContribution
	}
	amount := member.Contribution[contributionIdx].Amount
	if amount == nil || amount.Sign() == 0 {
		return nil, nil, nil, ErrNoContribution
	}
	amount = new(big.Int).Set(amount)

	fundsIdx := record.FundsFor(token.AssetID)
	total := big.NewInt(0)
	if fundsIdx >= 0 && record.TotalFunds[fundsIdx].Amount != nil {
		total = record.TotalFunds[fundsIdx].Amount
	}
	if total.Cmp(amount) < 0 {
		return nil, nil, nil, ErrInsufficientPoolFunds
	}

	pool, havePool, err := e.state.GetRewardsPool(record.Name, token.AssetID)
	if err != nil {
		return nil, nil, nil, err
	}
	if !havePool {
		pool = &types.RewardsPool{
			CooperativeName:    record.Name,
			AssetID:            token.AssetID,
			TotalRewards:       big.NewInt(0),
			DistributedRewards: big.NewInt(0),
		}
	}

	// Pro-rata entitlement: contribution × total_rewards / pooled total,
	// floored by integer division.
	memberShare := big.NewInt(0)
	if total.Sign() > 0 && pool.TotalRewards != nil && pool.TotalRewards.Sign() > 0 {
		memberShare = new(big.Int).Mul(amount, pool.TotalRewards)
		memberShare.Quo(memberShare, total)
	}

	// Consistency guard against stale share bookkeeping.
	recorded := big.NewInt(0)
	shareIdx := member.ShareFor(token.AssetID)
	if shareIdx >= 0 && member.Share[shareIdx].Amount != nil {
		recorded = member.Share[shareIdx].Amount
	}
	if recorded.Cmp(memberShare) < 0 {
		return nil, nil, nil, ErrInsufficientRewards
	}

	member.Contribution[contributionIdx].Amount = big.NewInt(0)
	if shareIdx >= 0 {
		member.Share[shareIdx].Amount = big.NewInt(0)
	}

	remaining := new(big.Int).Sub(record.TotalFunds[fundsIdx].Amount, amount)
	if remaining.Sign() < 0 {
		remaining = big.NewInt(0)
	}
	record.TotalFunds[fundsIdx].Amount = remaining

	pool.DistributedRewards = new(big.Int).Add(pool.DistributedRewards, memberShare)

	protocol, ok, err := e.state.ProtocolState()
	if err != nil {
		return nil, nil, nil, err
	}
	if !ok {
		return nil, nil, nil, errNotInitialised
	}
	protocol.DebitPooledFunds(token.AssetID, amount)

	if err := e.state.PutRewardsPool(pool); err != nil {
		return nil, nil, nil, err
	}
	if err := e.state.PutCooperative(record); err != nil {
		return nil, nil, nil, err
	}
	if err := e.state.PutProtocolState(protocol); err != nil {
		return nil, nil, nil, err
	}

	var instructions []bank.Instruction
	if token.IsNative {
		instructions = append(instructions, bank.NativeSend(token.Denom, e.custody, caller, amount))
	} else {
		instructions = append(instructions, bank.TokenTransfer(token.ContractAddr, e.custody, caller, amount))
	}

	e.emit(events.New(events.TypeContributionWithdrawn,
		"cooperative", record.Name,
		"member", caller.String(),
		"asset", assetRef,
		"amount", amount.String(),
		"reward", memberShare.String(),
		"asset_id", strconv.FormatUint(token.AssetID, 10),
	))
	return instructions, amount, memberShare, nil
}
