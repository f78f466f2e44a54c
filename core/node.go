package core

import (
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"coopchain/core/events"
	"coopchain/core/state"
	"coopchain/core/types"
	"coopchain/crypto"
	"coopchain/native/bank"
	"coopchain/native/coop"
	"coopchain/native/governance"
	"coopchain/native/lending"
	"coopchain/native/oracle"
	"coopchain/observability"
	"coopchain/storage"
)

// ErrNotInitialised reports that the protocol state singleton has not been
// seeded yet.
var ErrNotInitialised = errors.New("core: protocol state not initialised")

// Node wires the state manager and the native engines into one mutation
// surface. All state transitions run under a single mutex so the
// read-modify-write cycles inside the engines stay serialised, matching the
// one-transition-at-a-time execution model of the ledger.
type Node struct {
	mu       sync.Mutex
	manager  *state.Manager
	ledger   *coop.Engine
	lending  *lending.Engine
	gov      *governance.Engine
	oracle   *oracle.Engine
	custody  crypto.Address
	emitter  events.Emitter
	logger   *slog.Logger
	nowFunc  func() time.Time
	recorded []events.Event
}

// NewNode constructs a node over the database. The custody address holds
// pooled funds and vote escrow on behalf of the protocol.
func NewNode(db storage.Database, custody crypto.Address, logger *slog.Logger) *Node {
	manager := state.NewManager(db)
	node := &Node{
		manager: manager,
		custody: custody,
		logger:  logger,
		nowFunc: time.Now,
	}
	if node.logger == nil {
		node.logger = slog.Default()
	}

	node.ledger = coop.NewEngine(custody)
	node.ledger.SetState(manager)
	node.lending = lending.NewEngine(custody)
	node.lending.SetState(manager)
	node.gov = governance.NewEngine(custody)
	node.gov.SetState(manager)
	node.oracle = oracle.NewEngine()
	node.oracle.SetState(manager)

	node.SetEmitter(nil)
	return node
}

// SetQuerier wires the external asset system's balance view into the
// engines that pre-flight transfers.
func (n *Node) SetQuerier(q bank.Querier) {
	n.ledger.SetQuerier(q)
	n.lending.SetQuerier(q)
	n.gov.SetQuerier(q)
}

// SetEmitter configures the downstream event emitter. The node keeps its own
// tap on the stream so recent events stay queryable.
func (n *Node) SetEmitter(emitter events.Emitter) {
	tap := &tapEmitter{node: n, next: emitter}
	n.emitter = tap
	n.ledger.SetEmitter(tap)
	n.lending.SetEmitter(tap)
	n.gov.SetEmitter(tap)
	n.oracle.SetEmitter(tap)
}

// SetNowFunc overrides the time source. Intended for tests.
func (n *Node) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	n.nowFunc = now
}

const recentEventLimit = 256

type tapEmitter struct {
	node *Node
	next events.Emitter
}

func (t *tapEmitter) Emit(evt events.Event) {
	if t.node != nil {
		t.node.recorded = append(t.node.recorded, evt)
		if len(t.node.recorded) > recentEventLimit {
			t.node.recorded = t.node.recorded[len(t.node.recorded)-recentEventLimit:]
		}
	}
	if t.next != nil {
		t.next.Emit(evt)
	}
}

// RecentEvents returns the most recent emitted events, newest last.
func (n *Node) RecentEvents() []events.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]events.Event, len(n.recorded))
	copy(out, n.recorded)
	return out
}

func (n *Node) now() uint64 {
	return uint64(n.nowFunc().Unix())
}

func (n *Node) observe(engine, operation string, started time.Time, err error) {
	observability.EngineMetrics().ObserveTransition(engine, operation, time.Since(started), err)
	if err != nil {
		n.logger.Warn("transition aborted", "engine", engine, "operation", operation, "error", err)
	}
}

// InitGenesis seeds the protocol state singleton on first boot. It is a
// no-op when the state already exists.
func (n *Node) InitGenesis(owner, weightToken string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	_, ok, err := n.manager.ProtocolState()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	protocol := &types.ProtocolState{
		Owner:       owner,
		WeightToken: weightToken,
	}
	if err := n.manager.PutProtocolState(protocol); err != nil {
		return err
	}
	n.logger.Info("protocol state initialised", "owner", owner, "weight_token", weightToken)
	return nil
}

// --- Ledger transitions ---

// CreateCooperative registers a new cooperative.
func (n *Node) CreateCooperative(name string, profile types.RiskProfile, members []string, tokens []types.WhitelistedToken) (*types.Cooperative, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	started := time.Now()
	record, err := n.ledger.CreateCooperative(name, profile, members, tokens, n.now())
	n.observe("ledger", "create_cooperative", started, err)
	return record, err
}

// Fund deposits a whitelisted asset into the cooperative.
func (n *Node) Fund(name string, caller crypto.Address, assetRef string, amount *big.Int, sentFunds []types.Coin) ([]bank.Instruction, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	started := time.Now()
	instructions, err := n.ledger.Fund(name, caller, assetRef, amount, sentFunds)
	n.observe("ledger", "fund", started, err)
	return instructions, err
}

// WithdrawContributionAndReward exits the member's position in one asset.
func (n *Node) WithdrawContributionAndReward(name string, caller crypto.Address, assetRef string) ([]bank.Instruction, *big.Int, *big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	started := time.Now()
	instructions, principal, reward, err := n.ledger.WithdrawContributionAndReward(name, caller, assetRef)
	n.observe("ledger", "withdraw", started, err)
	return instructions, principal, reward, err
}

// --- Lending transitions ---

// Borrow issues a collateralized loan.
func (n *Node) Borrow(name string, caller crypto.Address, assetOut string, collateralRefs []string, collateralAmounts []*big.Int, minAmountOut *big.Int) ([]bank.Instruction, *types.Loan, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	started := time.Now()
	instructions, loan, err := n.lending.Borrow(name, caller, assetOut, collateralRefs, collateralAmounts, minAmountOut)
	n.observe("lending", "borrow", started, err)
	return instructions, loan, err
}

// Repay settles the caller's active loan in the asset.
func (n *Node) Repay(name string, caller crypto.Address, assetRef string, payment *big.Int, sentFunds []types.Coin) ([]bank.Instruction, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	started := time.Now()
	instructions, err := n.lending.Repay(name, caller, assetRef, payment, sentFunds)
	n.observe("lending", "repay", started, err)
	return instructions, err
}

// --- Governance transitions ---

// Propose submits a proposal against the cooperative.
func (n *Node) Propose(name string, caller crypto.Address, description string, payload governance.Payload, endTime uint64, quorumBps uint64) (*governance.Proposal, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	started := time.Now()
	proposal, err := n.gov.Propose(name, caller, description, payload, endTime, quorumBps)
	n.observe("governance", "propose", started, err)
	return proposal, err
}

// Vote casts a conviction-weighted ballot.
func (n *Node) Vote(proposalID uint64, caller crypto.Address, conviction *big.Int, aye bool) ([]bank.Instruction, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	started := time.Now()
	instructions, err := n.gov.Vote(proposalID, caller, conviction, aye, n.now())
	n.observe("governance", "vote", started, err)
	return instructions, err
}

// WithdrawWeight returns escrowed conviction after finalization.
func (n *Node) WithdrawWeight(proposalID uint64, caller crypto.Address) ([]bank.Instruction, *big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	started := time.Now()
	instructions, amount, err := n.gov.WithdrawWeight(proposalID, caller)
	n.observe("governance", "withdraw_weight", started, err)
	return instructions, amount, err
}

// ExecuteProposal applies a passed proposal's payload.
func (n *Node) ExecuteProposal(proposalID uint64, caller crypto.Address) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	started := time.Now()
	err := n.gov.ExecuteProposal(proposalID, caller, n.now())
	n.observe("governance", "execute", started, err)
	return err
}

// --- Oracle transitions ---

// UpdatePrice records a new USD quote for the asset reference.
func (n *Node) UpdatePrice(caller crypto.Address, reference string, usdPrice *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	started := time.Now()
	err := n.oracle.UpdatePrice(caller, reference, usdPrice, n.now())
	n.observe("oracle", "update_price", started, err)
	return err
}

// --- Queries ---

// GetCooperative loads a cooperative record by name.
func (n *Node) GetCooperative(name string) (*types.Cooperative, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	record, ok, err := n.manager.GetCooperative(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coop.ErrCooperativeNotFound
	}
	return record, nil
}

// GetMemberInfo returns the member's full position within the cooperative.
func (n *Node) GetMemberInfo(name, address string) (*types.Member, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	record, ok, err := n.manager.GetCooperative(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coop.ErrCooperativeNotFound
	}
	idx := record.MemberIndex(address)
	if idx < 0 {
		return nil, coop.ErrMemberNotFound
	}
	member := record.Members[idx]
	return &member, nil
}

// ContributionAndShare returns the member's contribution and reward share for
// one asset.
func (n *Node) ContributionAndShare(name, address, assetRef string) (*big.Int, *big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	record, ok, err := n.manager.GetCooperative(name)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, coop.ErrCooperativeNotFound
	}
	memberIdx := record.MemberIndex(address)
	if memberIdx < 0 {
		return nil, nil, coop.ErrMemberNotFound
	}
	tokenIdx := record.TokenByReference(assetRef)
	if tokenIdx < 0 {
		return nil, nil, coop.ErrInvalidToken
	}
	member := record.Members[memberIdx]
	assetID := record.WhitelistedTokens[tokenIdx].AssetID

	contribution := big.NewInt(0)
	if idx := member.ContributionFor(assetID); idx >= 0 && member.Contribution[idx].Amount != nil {
		contribution = new(big.Int).Set(member.Contribution[idx].Amount)
	}
	share := big.NewInt(0)
	if idx := member.ShareFor(assetID); idx >= 0 && member.Share[idx].Amount != nil {
		share = new(big.Int).Set(member.Share[idx].Amount)
	}
	return contribution, share, nil
}

// ListCooperatives returns cooperative names in ascending order within the
// inclusive bounds.
func (n *Node) ListCooperatives(min, max string) ([]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.manager.ListCooperatives(min, max)
}

// WhitelistedTokens returns the cooperative's accepted assets.
func (n *Node) WhitelistedTokens(name string) ([]types.WhitelistedToken, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	record, ok, err := n.manager.GetCooperative(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coop.ErrCooperativeNotFound
	}
	return record.WhitelistedTokens, nil
}

// GetAssetID resolves an external asset reference to its registry id.
func (n *Node) GetAssetID(reference string) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id, ok, err := n.manager.GetAssetID(reference)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, coop.ErrInvalidToken
	}
	return id, nil
}

// GetProposal loads a proposal record by id.
func (n *Node) GetProposal(id uint64) (*governance.Proposal, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	proposal, ok, err := n.manager.GetProposal(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coop.ErrProposalNotFound
	}
	return proposal, nil
}

// CooperativeProposals returns the proposal ids raised for the cooperative.
func (n *Node) CooperativeProposals(name string) ([]uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.manager.CooperativeProposals(name)
}

// GetPrice returns the latest oracle quote for the asset reference.
func (n *Node) GetPrice(reference string) (*types.Price, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.oracle.GetPrice(reference)
}

// MemberCooperatives returns the cooperative names the address belongs to.
func (n *Node) MemberCooperatives(address string) ([]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.manager.MemberCooperatives(address)
}

// ProtocolInfo returns the protocol-wide singleton.
func (n *Node) ProtocolInfo() (*types.ProtocolState, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	protocol, ok, err := n.manager.ProtocolState()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialised
	}
	return protocol, nil
}
