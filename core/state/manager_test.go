package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"coopchain/core/types"
	"coopchain/native/governance"
	"coopchain/storage"
)

func newTestManager() *Manager {
	return NewManager(storage.NewMemDB())
}

func TestProtocolStateRoundTrip(t *testing.T) {
	m := newTestManager()

	_, ok, err := m.ProtocolState()
	require.NoError(t, err)
	require.False(t, ok)

	protocol := &types.ProtocolState{
		Owner:             "coop1owner",
		WeightToken:       "cooptoken1weight",
		TotalCooperatives: 3,
		TotalPooledFunds:  []types.TokenAmount{{AssetID: 1, Amount: big.NewInt(500)}},
		CurrentProposalID: 9,
		CurrentAssetID:    4,
		CurrentLoanID:     2,
	}
	require.NoError(t, m.PutProtocolState(protocol))

	loaded, ok, err := m.ProtocolState()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, protocol.Owner, loaded.Owner)
	require.Equal(t, protocol.WeightToken, loaded.WeightToken)
	require.Equal(t, protocol.TotalCooperatives, loaded.TotalCooperatives)
	require.Equal(t, protocol.CurrentProposalID, loaded.CurrentProposalID)
	require.Len(t, loaded.TotalPooledFunds, 1)
	require.Equal(t, big.NewInt(500), loaded.TotalPooledFunds[0].Amount)
}

func TestCooperativeRoundTrip(t *testing.T) {
	m := newTestManager()

	record := &types.Cooperative{
		Name: "Harvest",
		Members: []types.Member{{
			Address:      "coop1member",
			Contribution: []types.TokenAmount{{AssetID: 1, Amount: big.NewInt(1_000)}},
			Loans: []types.Loan{{
				ID:                1,
				Amount:            big.NewInt(800),
				AssetID:           2,
				Collaterals:       []uint64{1},
				CollateralAmounts: []*big.Int{big.NewInt(500)},
				InterestRateBps:   800,
				Status:            types.LoanStatusActive,
			}},
			JoinedAt: 100,
		}},
		RiskProfile: types.RiskProfile{InterestRateBps: 750, CollateralizationRatioBps: 8_000},
		WhitelistedTokens: []types.WhitelistedToken{
			{AssetID: 1, Denom: "ugrain", IsNative: true, MaxLoanRatioBps: 9_000},
		},
		TotalFunds: []types.TokenAmount{{AssetID: 1, Amount: big.NewInt(1_000)}},
	}
	require.NoError(t, m.PutCooperative(record))

	// Lookup is case-insensitive via name canonicalisation.
	loaded, ok, err := m.GetCooperative("  HARVEST ")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "harvest", loaded.Name)
	require.Len(t, loaded.Members, 1)
	require.Equal(t, big.NewInt(1_000), loaded.Members[0].Contribution[0].Amount)
	require.Len(t, loaded.Members[0].Loans, 1)
	require.Equal(t, types.LoanStatusActive, loaded.Members[0].Loans[0].Status)
	require.Equal(t, []*big.Int{big.NewInt(500)}, loaded.Members[0].Loans[0].CollateralAmounts)

	has, err := m.HasCooperative("harvest")
	require.NoError(t, err)
	require.True(t, has)

	has, err = m.HasCooperative("unknown")
	require.NoError(t, err)
	require.False(t, has)
}

func TestListCooperativesOrderedWithBounds(t *testing.T) {
	m := newTestManager()

	for _, name := range []string{"cherry", "apple", "banana", "date"} {
		require.NoError(t, m.PutCooperative(&types.Cooperative{Name: name}))
	}

	names, err := m.ListCooperatives("", "")
	require.NoError(t, err)
	require.Equal(t, []string{"apple", "banana", "cherry", "date"}, names)

	names, err = m.ListCooperatives("banana", "cherry")
	require.NoError(t, err)
	require.Equal(t, []string{"banana", "cherry"}, names)

	names, err = m.ListCooperatives("", "banana")
	require.NoError(t, err)
	require.Equal(t, []string{"apple", "banana"}, names)
}

func TestProposalRoundTrip(t *testing.T) {
	m := newTestManager()

	proposal := &governance.Proposal{
		ID:              1,
		CooperativeName: "harvest",
		Description:     "admit new member",
		Payload:         governance.AddMemberPayload{Address: "coop1candidate"},
		Votes: []governance.Vote{
			{Voter: "coop1member", Conviction: big.NewInt(40), Aye: true, VotedAt: 200},
		},
		AyeCount:   1,
		AyeWeights: big.NewInt(40),
		NayWeights: big.NewInt(0),
		EndTime:    10_000,
		QuorumBps:  200,
	}
	require.NoError(t, m.PutProposal(proposal))
	require.NoError(t, m.AppendCooperativeProposal("harvest", proposal.ID))

	loaded, ok, err := m.GetProposal(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, proposal.Description, loaded.Description)
	require.Equal(t, governance.OutcomeUnset, loaded.Outcome)
	payload, isAdd := loaded.Payload.(governance.AddMemberPayload)
	require.True(t, isAdd)
	require.Equal(t, "coop1candidate", payload.Address)

	ids, err := m.CooperativeProposals("HARVEST")
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, ids)

	_, ok, err = m.GetProposal(99)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRewardsPoolRoundTrip(t *testing.T) {
	m := newTestManager()

	pool := &types.RewardsPool{
		CooperativeName:    "harvest",
		AssetID:            1,
		TotalRewards:       big.NewInt(400),
		DistributedRewards: big.NewInt(100),
	}
	require.NoError(t, m.PutRewardsPool(pool))

	loaded, ok, err := m.GetRewardsPool("harvest", 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, big.NewInt(400), loaded.TotalRewards)
	require.Equal(t, big.NewInt(100), loaded.DistributedRewards)

	_, ok, err = m.GetRewardsPool("harvest", 2)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAssetRegistryAndPrices(t *testing.T) {
	m := newTestManager()

	require.NoError(t, m.PutAssetID("ucoop", 1))
	id, ok, err := m.GetAssetID("ucoop")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), id)

	_, ok, err = m.GetAssetID("unknown")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.PutPrice(1, &types.Price{USDPrice: big.NewInt(5), UpdatedAt: 200}))
	price, ok, err := m.GetPrice(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, big.NewInt(5), price.USDPrice)
	require.Equal(t, uint64(200), price.UpdatedAt)
}

func TestMembershipIndexDeduplicates(t *testing.T) {
	m := newTestManager()

	require.NoError(t, m.AddMemberCooperative("coop1member", "Harvest"))
	require.NoError(t, m.AddMemberCooperative("coop1member", "harvest"))
	require.NoError(t, m.AddMemberCooperative("coop1member", "orchard"))

	names, err := m.MemberCooperatives("coop1member")
	require.NoError(t, err)
	require.Equal(t, []string{"harvest", "orchard"}, names)

	names, err = m.MemberCooperatives("coop1other")
	require.NoError(t, err)
	require.Empty(t, names)
}
