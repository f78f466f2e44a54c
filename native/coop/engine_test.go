package coop

import (
	"math/big"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"coopchain/core/types"
	"coopchain/crypto"
	"coopchain/native/bank"
)

type mockLedgerState struct {
	protocol    *types.ProtocolState
	coops       map[string]*types.Cooperative
	pools       map[string]*types.RewardsPool
	assets      map[string]uint64
	memberships map[string][]string
}

func newMockLedgerState() *mockLedgerState {
	return &mockLedgerState{
		protocol:    &types.ProtocolState{Owner: "coop1owner", WeightToken: "cooptoken1weight"},
		coops:       make(map[string]*types.Cooperative),
		pools:       make(map[string]*types.RewardsPool),
		assets:      make(map[string]uint64),
		memberships: make(map[string][]string),
	}
}

func (m *mockLedgerState) ProtocolState() (*types.ProtocolState, bool, error) {
	if m.protocol == nil {
		return nil, false, nil
	}
	return m.protocol, true, nil
}

func (m *mockLedgerState) PutProtocolState(state *types.ProtocolState) error {
	m.protocol = state
	return nil
}

func (m *mockLedgerState) GetCooperative(name string) (*types.Cooperative, bool, error) {
	record, ok := m.coops[types.NormalizeName(name)]
	return record, ok, nil
}

func (m *mockLedgerState) HasCooperative(name string) (bool, error) {
	_, ok := m.coops[types.NormalizeName(name)]
	return ok, nil
}

func (m *mockLedgerState) PutCooperative(record *types.Cooperative) error {
	m.coops[types.NormalizeName(record.Name)] = record
	return nil
}

func poolKey(name string, assetID uint64) string {
	return types.NormalizeName(name) + ":" + strconv.FormatUint(assetID, 10)
}

func (m *mockLedgerState) GetRewardsPool(name string, assetID uint64) (*types.RewardsPool, bool, error) {
	pool, ok := m.pools[poolKey(name, assetID)]
	return pool, ok, nil
}

func (m *mockLedgerState) PutRewardsPool(pool *types.RewardsPool) error {
	m.pools[poolKey(pool.CooperativeName, pool.AssetID)] = pool
	return nil
}

func (m *mockLedgerState) PutAssetID(reference string, id uint64) error {
	m.assets[reference] = id
	return nil
}

func (m *mockLedgerState) AddMemberCooperative(address, name string) error {
	m.memberships[address] = append(m.memberships[address], types.NormalizeName(name))
	return nil
}

type mockQuerier struct {
	balances   map[string]*big.Int
	allowances map[string]*big.Int
}

func (q *mockQuerier) NativeBalance(denom string, addr crypto.Address) (*big.Int, error) {
	return q.lookup(q.balances, denom+"|"+addr.String()), nil
}

func (q *mockQuerier) TokenBalance(token string, addr crypto.Address) (*big.Int, error) {
	return q.lookup(q.balances, token+"|"+addr.String()), nil
}

func (q *mockQuerier) TokenAllowance(token string, owner, spender crypto.Address) (*big.Int, error) {
	return q.lookup(q.allowances, token+"|"+owner.String()+"|"+spender.String()), nil
}

func (q *mockQuerier) lookup(table map[string]*big.Int, key string) *big.Int {
	if v, ok := table[key]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

func testAddress(seed byte) crypto.Address {
	buf := make([]byte, 20)
	for i := range buf {
		buf[i] = seed
	}
	return crypto.NewAddress(crypto.CoopPrefix, buf)
}

func newTestEngine(t *testing.T) (*Engine, *mockLedgerState, crypto.Address) {
	t.Helper()
	custody := testAddress(0xCC)
	engine := NewEngine(custody)
	state := newMockLedgerState()
	engine.SetState(state)
	return engine, state, custody
}

func seedCooperative(t *testing.T, engine *Engine, members []string) *types.Cooperative {
	t.Helper()
	profile := types.RiskProfile{InterestRateBps: 750, CollateralizationRatioBps: 8000}
	tokens := []types.WhitelistedToken{
		{Denom: "ucoop", IsNative: true, MaxLoanRatioBps: 9000},
	}
	record, err := engine.CreateCooperative("Harvest", profile, members, tokens, 100)
	require.NoError(t, err)
	return record
}

func TestCreateCooperativeAssignsAssetIDs(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	member := testAddress(0x01)

	record := seedCooperative(t, engine, []string{member.String()})

	require.Equal(t, "harvest", record.Name)
	require.Len(t, record.WhitelistedTokens, 1)
	require.Equal(t, uint64(1), record.WhitelistedTokens[0].AssetID)
	require.Equal(t, uint64(1), state.protocol.TotalCooperatives)
	require.Equal(t, uint64(1), state.protocol.CurrentAssetID)
	require.Equal(t, uint64(1), state.assets["ucoop"])
	require.Equal(t, []string{"harvest"}, state.memberships[member.String()])
}

func TestCreateCooperativeDuplicateName(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	member := testAddress(0x01)
	seedCooperative(t, engine, []string{member.String()})

	_, err := engine.CreateCooperative("  HARVEST ", types.RiskProfile{}, nil, nil, 100)
	require.ErrorIs(t, err, ErrCooperativeExists)
}

func TestCreateCooperativeLimits(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	members := make([]string, 21)
	for i := range members {
		members[i] = testAddress(byte(i + 1)).String()
	}
	_, err := engine.CreateCooperative("big", types.RiskProfile{}, members, nil, 100)
	require.ErrorIs(t, err, ErrInvalidInput)

	tokens := make([]types.WhitelistedToken, 6)
	for i := range tokens {
		tokens[i] = types.WhitelistedToken{Denom: "tok", IsNative: true}
	}
	_, err = engine.CreateCooperative("big", types.RiskProfile{}, nil, tokens, 100)
	require.ErrorIs(t, err, ErrMaxWhitelistedTokens)
}

func TestFundNativeHappyPath(t *testing.T) {
	engine, state, custody := newTestEngine(t)
	member := testAddress(0x01)
	seedCooperative(t, engine, []string{member.String()})

	amount := big.NewInt(1_000)
	sent := []types.Coin{{Denom: "ucoop", Amount: amount}}
	instructions, err := engine.Fund("harvest", member, "ucoop", amount, sent)
	require.NoError(t, err)
	require.Len(t, instructions, 1)
	require.Equal(t, bank.KindNativeSend, instructions[0].Kind)
	require.Equal(t, custody, instructions[0].To)

	record := state.coops["harvest"]
	require.Equal(t, amount, record.Members[0].Contribution[0].Amount)
	require.Equal(t, amount, record.TotalFunds[0].Amount)
	require.Equal(t, amount, state.protocol.TotalPooledFunds[0].Amount)
}

func TestFundNativeRequiresMatchingFunds(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	member := testAddress(0x01)
	seedCooperative(t, engine, []string{member.String()})

	_, err := engine.Fund("harvest", member, "ucoop", big.NewInt(1_000), nil)
	require.ErrorIs(t, err, ErrNoFunds)

	sent := []types.Coin{{Denom: "ucoop", Amount: big.NewInt(999)}}
	_, err = engine.Fund("harvest", member, "ucoop", big.NewInt(1_000), sent)
	require.ErrorIs(t, err, ErrFundsMustMatchAmount)
}

func TestFundRejectsNonMember(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	member := testAddress(0x01)
	stranger := testAddress(0x02)
	seedCooperative(t, engine, []string{member.String()})

	sent := []types.Coin{{Denom: "ucoop", Amount: big.NewInt(100)}}
	_, err := engine.Fund("harvest", stranger, "ucoop", big.NewInt(100), sent)
	require.ErrorIs(t, err, ErrMemberNotFound)
}

func TestFundRejectsUnlistedAsset(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	member := testAddress(0x01)
	seedCooperative(t, engine, []string{member.String()})

	_, err := engine.Fund("harvest", member, "uother", big.NewInt(100), nil)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestWithdrawProRataReward(t *testing.T) {
	engine, state, custody := newTestEngine(t)
	alice := testAddress(0x01)
	bob := testAddress(0x02)
	seedCooperative(t, engine, []string{alice.String(), bob.String()})

	fund := func(addr crypto.Address, amount int64) {
		sent := []types.Coin{{Denom: "ucoop", Amount: big.NewInt(amount)}}
		_, err := engine.Fund("harvest", addr, "ucoop", big.NewInt(amount), sent)
		require.NoError(t, err)
	}
	fund(alice, 3_000)
	fund(bob, 1_000)

	// Accrue rewards and credit the members' shares to match.
	state.pools[poolKey("harvest", 1)] = &types.RewardsPool{
		CooperativeName:    "harvest",
		AssetID:            1,
		TotalRewards:       big.NewInt(400),
		DistributedRewards: big.NewInt(0),
	}
	record := state.coops["harvest"]
	record.Members[0].CreditShare(1, big.NewInt(300))
	record.Members[1].CreditShare(1, big.NewInt(100))

	instructions, principal, reward, err := engine.WithdrawContributionAndReward("harvest", alice, "ucoop")
	require.NoError(t, err)
	require.Len(t, instructions, 1)
	require.Equal(t, custody, instructions[0].From)
	require.Equal(t, alice, instructions[0].To)
	require.Equal(t, big.NewInt(3_000), principal)
	// 3000 * 400 / 4000
	require.Equal(t, big.NewInt(300), reward)

	record = state.coops["harvest"]
	require.Zero(t, record.Members[0].Contribution[0].Amount.Sign())
	require.Zero(t, record.Members[0].Share[0].Amount.Sign())
	require.Equal(t, big.NewInt(1_000), record.TotalFunds[0].Amount)
	require.Equal(t, big.NewInt(300), state.pools[poolKey("harvest", 1)].DistributedRewards)
}

func TestWithdrawWithoutContribution(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	member := testAddress(0x01)
	seedCooperative(t, engine, []string{member.String()})

	_, _, _, err := engine.WithdrawContributionAndReward("harvest", member, "ucoop")
	require.ErrorIs(t, err, ErrNoContribution)
}

func TestWithdrawTwiceReturnsNoContribution(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	member := testAddress(0x01)
	seedCooperative(t, engine, []string{member.String()})

	sent := []types.Coin{{Denom: "ucoop", Amount: big.NewInt(500)}}
	_, err := engine.Fund("harvest", member, "ucoop", big.NewInt(500), sent)
	require.NoError(t, err)

	_, _, _, err = engine.WithdrawContributionAndReward("harvest", member, "ucoop")
	require.NoError(t, err)

	_, _, _, err = engine.WithdrawContributionAndReward("harvest", member, "ucoop")
	require.ErrorIs(t, err, ErrNoContribution)
}

func TestFundTokenChecksAllowance(t *testing.T) {
	engine, _, custody := newTestEngine(t)
	member := testAddress(0x01)
	profile := types.RiskProfile{InterestRateBps: 500, CollateralizationRatioBps: 7000}
	tokens := []types.WhitelistedToken{
		{Denom: "wrapped", ContractAddr: "cooptoken1abc", IsNative: false, MaxLoanRatioBps: 8000},
	}
	_, err := engine.CreateCooperative("harvest", profile, []string{member.String()}, tokens, 100)
	require.NoError(t, err)

	querier := &mockQuerier{
		balances:   map[string]*big.Int{"cooptoken1abc|" + member.String(): big.NewInt(1_000)},
		allowances: map[string]*big.Int{},
	}
	engine.SetQuerier(querier)

	_, err = engine.Fund("harvest", member, "cooptoken1abc", big.NewInt(500), nil)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	querier.allowances["cooptoken1abc|"+member.String()+"|"+custody.String()] = big.NewInt(500)
	instructions, err := engine.Fund("harvest", member, "cooptoken1abc", big.NewInt(500), nil)
	require.NoError(t, err)
	require.Len(t, instructions, 1)
	require.Equal(t, bank.KindTokenTransferFrom, instructions[0].Kind)
}
