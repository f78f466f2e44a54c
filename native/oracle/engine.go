package oracle

import (
	"errors"
	"math/big"
	"strconv"

	"coopchain/core/events"
	"coopchain/core/types"
	"coopchain/crypto"
	"coopchain/native/coop"
)

var (
	errNilState       = errors.New("oracle: state not configured")
	errNotInitialised = errors.New("oracle: protocol state not initialised")
)

type oracleState interface {
	ProtocolState() (*types.ProtocolState, bool, error)
	GetAssetID(reference string) (uint64, bool, error)
	GetPrice(assetID uint64) (*types.Price, bool, error)
	PutPrice(assetID uint64, price *types.Price) error
}

// Engine is the owner-fed price registry. Quotes are keyed by registry asset
// id and timestamped with the block time of the update.
type Engine struct {
	state   oracleState
	emitter events.Emitter
}

// NewEngine constructs a price registry engine.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState wires the engine to the persistence layer.
func (e *Engine) SetState(state oracleState) { e.state = state }

// SetEmitter configures the event emitter. Nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// UpdatePrice records a new USD quote for the asset reference. Only the
// protocol owner may feed prices; unregistered references are rejected.
func (e *Engine) UpdatePrice(caller crypto.Address, reference string, usdPrice *big.Int, now uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if usdPrice == nil || usdPrice.Sign() <= 0 {
		return coop.ErrInvalidInput
	}

	protocol, ok, err := e.state.ProtocolState()
	if err != nil {
		return err
	}
	if !ok {
		return errNotInitialised
	}
	if caller.String() != protocol.Owner {
		return coop.ErrUnauthorized
	}

	assetID, ok, err := e.state.GetAssetID(reference)
	if err != nil {
		return err
	}
	if !ok {
		return coop.ErrInvalidToken
	}

	price := &types.Price{
		USDPrice:  new(big.Int).Set(usdPrice),
		UpdatedAt: now,
	}
	if err := e.state.PutPrice(assetID, price); err != nil {
		return err
	}

	if e.emitter != nil {
		e.emitter.Emit(events.New(events.TypePriceUpdated,
			"asset", reference,
			"asset_id", strconv.FormatUint(assetID, 10),
			"usd_price", usdPrice.String(),
		))
	}
	return nil
}

// GetPrice resolves the asset reference and returns its latest quote.
func (e *Engine) GetPrice(reference string) (*types.Price, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	assetID, ok, err := e.state.GetAssetID(reference)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coop.ErrInvalidToken
	}
	price, ok, err := e.state.GetPrice(assetID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coop.ErrInvalidToken
	}
	return price, nil
}
