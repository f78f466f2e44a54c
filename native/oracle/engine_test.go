package oracle

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"coopchain/core/types"
	"coopchain/crypto"
	"coopchain/native/coop"
)

type mockOracleState struct {
	protocol *types.ProtocolState
	assets   map[string]uint64
	prices   map[uint64]*types.Price
}

func (m *mockOracleState) ProtocolState() (*types.ProtocolState, bool, error) {
	return m.protocol, m.protocol != nil, nil
}

func (m *mockOracleState) GetAssetID(reference string) (uint64, bool, error) {
	id, ok := m.assets[reference]
	return id, ok, nil
}

func (m *mockOracleState) GetPrice(assetID uint64) (*types.Price, bool, error) {
	price, ok := m.prices[assetID]
	return price, ok, nil
}

func (m *mockOracleState) PutPrice(assetID uint64, price *types.Price) error {
	m.prices[assetID] = price
	return nil
}

func testAddress(seed byte) crypto.Address {
	buf := make([]byte, 20)
	for i := range buf {
		buf[i] = seed
	}
	return crypto.NewAddress(crypto.CoopPrefix, buf)
}

func newOracleFixture() (*Engine, *mockOracleState, crypto.Address) {
	owner := testAddress(0xAA)
	state := &mockOracleState{
		protocol: &types.ProtocolState{Owner: owner.String(), WeightToken: "cooptoken1weight"},
		assets:   map[string]uint64{"ucoop": 1},
		prices:   make(map[uint64]*types.Price),
	}
	engine := NewEngine()
	engine.SetState(state)
	return engine, state, owner
}

func TestUpdatePriceOwnerOnly(t *testing.T) {
	engine, _, _ := newOracleFixture()
	stranger := testAddress(0x01)

	err := engine.UpdatePrice(stranger, "ucoop", big.NewInt(5), 200)
	require.ErrorIs(t, err, coop.ErrUnauthorized)
}

func TestUpdatePriceStoresQuote(t *testing.T) {
	engine, state, owner := newOracleFixture()

	require.NoError(t, engine.UpdatePrice(owner, "ucoop", big.NewInt(5), 200))

	stored := state.prices[1]
	require.NotNil(t, stored)
	require.Equal(t, big.NewInt(5), stored.USDPrice)
	require.Equal(t, uint64(200), stored.UpdatedAt)

	price, err := engine.GetPrice("ucoop")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(5), price.USDPrice)
}

func TestUpdatePriceUnknownAsset(t *testing.T) {
	engine, _, owner := newOracleFixture()

	err := engine.UpdatePrice(owner, "unknown", big.NewInt(5), 200)
	require.ErrorIs(t, err, coop.ErrInvalidToken)
}

func TestUpdatePriceRejectsNonPositive(t *testing.T) {
	engine, _, owner := newOracleFixture()

	err := engine.UpdatePrice(owner, "ucoop", big.NewInt(0), 200)
	require.ErrorIs(t, err, coop.ErrInvalidInput)
	err = engine.UpdatePrice(owner, "ucoop", nil, 200)
	require.ErrorIs(t, err, coop.ErrInvalidInput)
}

func TestGetPriceMissingQuote(t *testing.T) {
	engine, _, _ := newOracleFixture()

	_, err := engine.GetPrice("ucoop")
	require.ErrorIs(t, err, coop.ErrInvalidToken)
}
