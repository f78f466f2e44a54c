package governance

import (
	"errors"
	"math/big"
	"strconv"
	"strings"

	"coopchain/core/events"
	"coopchain/core/types"
	"coopchain/crypto"
	"coopchain/native/bank"
	"coopchain/native/coop"
)

var (
	errNilState       = errors.New("governance: state not configured")
	errNilQuerier     = errors.New("governance: bank querier not configured")
	errNotInitialised = errors.New("governance: protocol state not initialised")
)

const maxWhitelistedTokens = 5

type governanceState interface {
	ProtocolState() (*types.ProtocolState, bool, error)
	PutProtocolState(state *types.ProtocolState) error
	GetCooperative(name string) (*types.Cooperative, bool, error)
	PutCooperative(record *types.Cooperative) error
	GetProposal(id uint64) (*Proposal, bool, error)
	PutProposal(proposal *Proposal) error
	AppendCooperativeProposal(name string, id uint64) error
	PutAssetID(reference string, id uint64) error
	AddMemberCooperative(address, name string) error
}

// Engine runs the proposal lifecycle: submission, conviction-weighted voting
// with escrowed weight tokens, weight withdrawal after finalization, and
// execution of passed proposals.
type Engine struct {
	state   governanceState
	querier bank.Querier
	custody crypto.Address
	emitter events.Emitter
}

// NewEngine constructs a governance engine bound to the protocol custodial
// address holding vote escrow.
func NewEngine(custody crypto.Address) *Engine {
	return &Engine{
		custody: custody,
		emitter: events.NoopEmitter{},
	}
}

// SetState wires the engine to the persistence layer.
func (e *Engine) SetState(state governanceState) { e.state = state }

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

// Propose submits a proposal against the cooperative. Only members may
// propose; the payload is validated structurally up front so malformed
// requests never enter the voting lifecycle.
func (e *Engine) Propose(name string, caller crypto.Address, description string, payload Payload, endTime uint64, quorumBps uint64) (*Proposal, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if payload == nil {
		return nil, coop.ErrInvalidProposal
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	record, ok, err := e.state.GetCooperative(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coop.ErrCooperativeNotFound
	}
	if record.MemberIndex(caller.String()) < 0 {
		return nil, coop.ErrUnauthorized
	}

	protocol, ok, err := e.state.ProtocolState()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNotInitialised
	}
	protocol.CurrentProposalID++

	proposal := &Proposal{
		ID:              protocol.CurrentProposalID,
		CooperativeName: record.Name,
		Description:     strings.TrimSpace(description),
		Payload:         payload,
		AyeWeights:      big.NewInt(0),
		NayWeights:      big.NewInt(0),
		EndTime:         endTime,
		QuorumBps:       quorumBps,
	}

	if err := e.state.PutProposal(proposal); err != nil {
		return nil, err
	}
	if err := e.state.AppendCooperativeProposal(record.Name, proposal.ID); err != nil {
		return nil, err
	}
	if err := e.state.PutProtocolState(protocol); err != nil {
		return nil, err
	}

	e.emit(events.New(events.TypeProposalCreated,
		"cooperative", record.Name,
		"proposal_id", strconv.FormatUint(proposal.ID, 10),
		"kind", payload.Kind().String(),
	))
	return proposal, nil
}

// Vote casts a ballot with the given conviction. The conviction is escrowed
// in weight tokens pulled from the voter; it is returned through
// WithdrawWeight once the proposal finalizes. When the proposal carries a
// quorum, reaching it finalizes the tally synchronously.
func (e *Engine) Vote(proposalID uint64, caller crypto.Address, conviction *big.Int, aye bool, now uint64) ([]bank.Instruction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if conviction == nil || conviction.Sign() <= 0 {
		return nil, coop.ErrInvalidInput
	}

	proposal, ok, err := e.state.GetProposal(proposalID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coop.ErrProposalNotFound
	}
	if proposal.Outcome != OutcomeUnset {
		return nil, coop.ErrProposalEnded
	}

	record, ok, err := e.state.GetCooperative(proposal.CooperativeName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coop.ErrCooperativeNotFound
	}
	if record.MemberIndex(caller.String()) < 0 {
		return nil, coop.ErrUnauthorized
	}
	if proposal.VoteBy(caller.String()) >= 0 {
		return nil, coop.ErrAlreadyVoted
	}

	protocol, ok, err := e.state.ProtocolState()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNotInitialised
	}

	if e.querier == nil {
		return nil, errNilQuerier
	}
	balance, err := e.querier.TokenBalance(protocol.WeightToken, caller)
	if err != nil {
		return nil, err
	}
	if balance == nil || balance.Cmp(conviction) < 0 {
		return nil, coop.ErrInsufficientFunds
	}
	allowance, err := e.querier.TokenAllowance(protocol.WeightToken, caller, e.custody)
	if err != nil {
		return nil, err
	}
	if allowance == nil || allowance.Cmp(conviction) < 0 {
		return nil, coop.ErrInsufficientFunds
	}

	proposal.Votes = append(proposal.Votes, Vote{
		Voter:      caller.String(),
		Conviction: new(big.Int).Set(conviction),
		Aye:        aye,
		VotedAt:    now,
	})
	if aye {
		proposal.AyeCount++
		proposal.AyeWeights = new(big.Int).Add(proposal.AyeWeights, conviction)
	} else {
		proposal.NayCount++
		proposal.NayWeights = new(big.Int).Add(proposal.NayWeights, conviction)
	}

	// Quorum is measured against the summed vote weights: scaling the total
	// by one hundred keeps the basis-point comparison in integers.
	if proposal.QuorumBps > 0 {
		total := new(big.Int).Add(proposal.AyeWeights, proposal.NayWeights)
		total.Mul(total, big.NewInt(100))
		if total.Cmp(new(big.Int).SetUint64(proposal.QuorumBps)) >= 0 {
			if proposal.AyeWeights.Cmp(proposal.NayWeights) > 0 {
				proposal.Outcome = OutcomePassed
			} else {
				proposal.Outcome = OutcomeRejected
			}
		}
	}

	if err := e.state.PutProposal(proposal); err != nil {
		return nil, err
	}

	instructions := []bank.Instruction{
		bank.TokenTransferFrom(protocol.WeightToken, caller, e.custody, conviction),
	}

	e.emit(events.New(events.TypeVoteCast,
		"proposal_id", strconv.FormatUint(proposal.ID, 10),
		"voter", caller.String(),
		"aye", strconv.FormatBool(aye),
		"conviction", conviction.String(),
		"outcome", proposal.Outcome.String(),
	))
	return instructions, nil
}

// WithdrawWeight returns the caller's escrowed conviction once the proposal
// has finalized. The ballot itself stays on record with its conviction
// zeroed, so a repeated withdrawal succeeds and returns zero.
func (e *Engine) WithdrawWeight(proposalID uint64, caller crypto.Address) ([]bank.Instruction, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}

	proposal, ok, err := e.state.GetProposal(proposalID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, coop.ErrProposalNotFound
	}
	if proposal.Outcome == OutcomeUnset {
		return nil, nil, coop.ErrProposalInProcess
	}

	voteIdx := proposal.VoteBy(caller.String())
	if voteIdx < 0 {
		return nil, nil, coop.ErrNoWeightsToWithdraw
	}

	amount := big.NewInt(0)
	if proposal.Votes[voteIdx].Conviction != nil {
		amount = new(big.Int).Set(proposal.Votes[voteIdx].Conviction)
	}
	if amount.Sign() == 0 {
		return nil, amount, nil
	}

	protocol, ok, err := e.state.ProtocolState()
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, errNotInitialised
	}

	proposal.Votes[voteIdx].Conviction = big.NewInt(0)
	if err := e.state.PutProposal(proposal); err != nil {
		return nil, nil, err
	}

	instructions := []bank.Instruction{
		bank.TokenTransfer(protocol.WeightToken, e.custody, caller, amount),
	}

	e.emit(events.New(events.TypeWeightWithdrawn,
		"proposal_id", strconv.FormatUint(proposal.ID, 10),
		"voter", caller.String(),
		"amount", amount.String(),
	))
	return instructions, amount, nil
}

// ExecuteProposal applies the payload of a passed proposal. Execution is
// single-shot: the executed flag flips exactly once, and a failed payload
// application leaves the proposal executable again because the whole
// transition aborts.
func (e *Engine) ExecuteProposal(proposalID uint64, caller crypto.Address, now uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}

	proposal, ok, err := e.state.GetProposal(proposalID)
	if err != nil {
		return err
	}
	if !ok {
		return coop.ErrProposalNotFound
	}
	if proposal.Executed {
		return coop.ErrProposalAlreadyExecuted
	}

	record, ok, err := e.state.GetCooperative(proposal.CooperativeName)
	if err != nil {
		return err
	}
	if !ok {
		return coop.ErrCooperativeNotFound
	}
	if record.MemberIndex(caller.String()) < 0 {
		return coop.ErrUnauthorized
	}

	if now >= proposal.EndTime {
		return coop.ErrProposalInProcess
	}
	switch proposal.Outcome {
	case OutcomeUnset:
		return coop.ErrProposalInProcess
	case OutcomeRejected:
		return coop.ErrProposalRejected
	}

	protocol, ok, err := e.state.ProtocolState()
	if err != nil {
		return err
	}
	if !ok {
		return errNotInitialised
	}

	switch payload := proposal.Payload.(type) {
	case WhitelistTokenPayload:
		if caller.String() != protocol.Owner {
			return coop.ErrUnauthorized
		}
		for _, token := range record.WhitelistedTokens {
			if token.Denom == payload.Denom {
				return coop.ErrTokenWhitelisted
			}
		}
		if len(record.WhitelistedTokens) >= maxWhitelistedTokens {
			return coop.ErrMaxWhitelistedTokens
		}
		protocol.CurrentAssetID++
		token := types.WhitelistedToken{
			AssetID:         protocol.CurrentAssetID,
			Denom:           payload.Denom,
			ContractAddr:    payload.ContractAddr,
			IsNative:        payload.IsNative,
			MaxLoanRatioBps: payload.MaxLoanRatioBps,
		}
		record.WhitelistedTokens = append(record.WhitelistedTokens, token)
		if err := e.state.PutAssetID(token.Reference(), token.AssetID); err != nil {
			return err
		}
		if err := e.state.PutProtocolState(protocol); err != nil {
			return err
		}
	case AddMemberPayload:
		if record.MemberIndex(payload.Address) >= 0 {
			return coop.ErrAlreadyMember
		}
		record.Members = append(record.Members, types.Member{Address: payload.Address, JoinedAt: now})
		if err := e.state.AddMemberCooperative(payload.Address, record.Name); err != nil {
			return err
		}
	default:
		return coop.ErrNotImplemented
	}

	proposal.Executed = true
	if err := e.state.PutCooperative(record); err != nil {
		return err
	}
	if err := e.state.PutProposal(proposal); err != nil {
		return err
	}

	e.emit(events.New(events.TypeProposalExecuted,
		"proposal_id", strconv.FormatUint(proposal.ID, 10),
		"cooperative", record.Name,
		"kind", proposal.Payload.Kind().String(),
		"executor", caller.String(),
	))
	return nil
}
