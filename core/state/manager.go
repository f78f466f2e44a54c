package state

import (
	"encoding/binary"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"coopchain/core/types"
	"coopchain/native/governance"
	"coopchain/storage"
)

// Manager reads and writes protocol state against the key-value backend.
// Record keys are keccak-hashed with a collection prefix; the cooperative
// name index keeps raw keys so range listing stays ordered.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func hashedKey(prefix []byte, suffix []byte) []byte {
	buf := make([]byte, len(prefix)+len(suffix))
	copy(buf, prefix)
	copy(buf[len(prefix):], suffix)
	return ethcrypto.Keccak256(buf)
}

func uint64Suffix(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) put(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// --- Protocol state singleton ---

// ProtocolState loads the global record. The boolean reports whether the
// protocol has been initialised.
func (m *Manager) ProtocolState() (*types.ProtocolState, bool, error) {
	state := new(types.ProtocolState)
	ok, err := m.get(hashedKey(protocolStateKeyBytes, nil), state)
	if err != nil || !ok {
		return nil, ok, err
	}
	return state, true, nil
}

// PutProtocolState persists the global record.
func (m *Manager) PutProtocolState(state *types.ProtocolState) error {
	if state == nil {
		return fmt.Errorf("state: protocol state must not be nil")
	}
	return m.put(hashedKey(protocolStateKeyBytes, nil), state)
}

// --- Cooperatives ---

// GetCooperative loads a cooperative by its canonical name.
func (m *Manager) GetCooperative(name string) (*types.Cooperative, bool, error) {
	canonical := types.NormalizeName(name)
	record := new(types.Cooperative)
	ok, err := m.get(hashedKey(cooperativePrefix, []byte(canonical)), record)
	if err != nil || !ok {
		return nil, ok, err
	}
	return record, true, nil
}

// HasCooperative reports whether a cooperative with the name exists.
func (m *Manager) HasCooperative(name string) (bool, error) {
	canonical := types.NormalizeName(name)
	return m.db.Has(hashedKey(cooperativePrefix, []byte(canonical)))
}

// PutCooperative persists the cooperative record and maintains the ordered
// name index used for listing.
func (m *Manager) PutCooperative(record *types.Cooperative) error {
	if record == nil {
		return fmt.Errorf("state: cooperative must not be nil")
	}
	canonical := types.NormalizeName(record.Name)
	if err := m.put(hashedKey(cooperativePrefix, []byte(canonical)), record); err != nil {
		return err
	}
	indexKey := append(append([]byte(nil), coopNameIndexPrefix...), canonical...)
	return m.db.Put(indexKey, []byte{1})
}

// ListCooperatives returns cooperative names in ascending order, restricted
// to the inclusive [min, max] bounds when either is non-empty.
func (m *Manager) ListCooperatives(min, max string) ([]string, error) {
	min = types.NormalizeName(min)
	max = types.NormalizeName(max)
	names := []string{}
	err := m.db.IteratePrefix(coopNameIndexPrefix, func(key, _ []byte) bool {
		name := string(key[len(coopNameIndexPrefix):])
		if min != "" && name < min {
			return true
		}
		if max != "" && name > max {
			return false
		}
		names = append(names, name)
		return true
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// --- Proposals ---

// GetProposal loads a proposal by id.
func (m *Manager) GetProposal(id uint64) (*governance.Proposal, bool, error) {
	proposal := new(governance.Proposal)
	ok, err := m.get(hashedKey(proposalPrefix, uint64Suffix(id)), proposal)
	if err != nil || !ok {
		return nil, ok, err
	}
	return proposal, true, nil
}

// PutProposal persists the proposal record.
func (m *Manager) PutProposal(proposal *governance.Proposal) error {
	if proposal == nil {
		return fmt.Errorf("state: proposal must not be nil")
	}
	return m.put(hashedKey(proposalPrefix, uint64Suffix(proposal.ID)), proposal)
}

// CooperativeProposals returns the proposal ids raised for the cooperative.
func (m *Manager) CooperativeProposals(name string) ([]uint64, error) {
	canonical := types.NormalizeName(name)
	var ids []uint64
	ok, err := m.get(hashedKey(coopProposalsPrefix, []byte(canonical)), &ids)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []uint64{}, nil
	}
	return ids, nil
}

// AppendCooperativeProposal adds the proposal id to the cooperative's index.
func (m *Manager) AppendCooperativeProposal(name string, id uint64) error {
	canonical := types.NormalizeName(name)
	ids, err := m.CooperativeProposals(canonical)
	if err != nil {
		return err
	}
	ids = append(ids, id)
	return m.put(hashedKey(coopProposalsPrefix, []byte(canonical)), ids)
}

// --- Rewards pools ---

func rewardsPoolSuffix(name string, assetID uint64) []byte {
	canonical := types.NormalizeName(name)
	buf := make([]byte, 0, len(canonical)+1+8)
	buf = append(buf, canonical...)
	buf = append(buf, ':')
	buf = append(buf, uint64Suffix(assetID)...)
	return buf
}

// GetRewardsPool loads the rewards ledger for one cooperative and asset.
func (m *Manager) GetRewardsPool(name string, assetID uint64) (*types.RewardsPool, bool, error) {
	pool := new(types.RewardsPool)
	ok, err := m.get(hashedKey(rewardsPoolPrefix, rewardsPoolSuffix(name, assetID)), pool)
	if err != nil || !ok {
		return nil, ok, err
	}
	return pool, true, nil
}

// PutRewardsPool persists the rewards ledger.
func (m *Manager) PutRewardsPool(pool *types.RewardsPool) error {
	if pool == nil {
		return fmt.Errorf("state: rewards pool must not be nil")
	}
	return m.put(hashedKey(rewardsPoolPrefix, rewardsPoolSuffix(pool.CooperativeName, pool.AssetID)), pool)
}

// --- Asset registry ---

// GetAssetID resolves an external asset reference (denom or contract
// address) to its registry id.
func (m *Manager) GetAssetID(reference string) (uint64, bool, error) {
	var id uint64
	ok, err := m.get(hashedKey(assetIDPrefix, []byte(reference)), &id)
	if err != nil || !ok {
		return 0, ok, err
	}
	return id, true, nil
}

// PutAssetID registers an external asset reference under a registry id.
func (m *Manager) PutAssetID(reference string, id uint64) error {
	return m.put(hashedKey(assetIDPrefix, []byte(reference)), id)
}

// --- Prices ---

// GetPrice loads the latest oracle quote for an asset.
func (m *Manager) GetPrice(assetID uint64) (*types.Price, bool, error) {
	price := new(types.Price)
	ok, err := m.get(hashedKey(pricePrefix, uint64Suffix(assetID)), price)
	if err != nil || !ok {
		return nil, ok, err
	}
	return price, true, nil
}

// PutPrice persists the latest oracle quote.
func (m *Manager) PutPrice(assetID uint64, price *types.Price) error {
	if price == nil {
		return fmt.Errorf("state: price must not be nil")
	}
	return m.put(hashedKey(pricePrefix, uint64Suffix(assetID)), price)
}

// --- Membership index ---

// MemberCooperatives returns the cooperative names the address belongs to.
func (m *Manager) MemberCooperatives(address string) ([]string, error) {
	var names []string
	ok, err := m.get(hashedKey(memberCoopsPrefix, []byte(address)), &names)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []string{}, nil
	}
	return names, nil
}

// AddMemberCooperative records the address's membership of the cooperative.
func (m *Manager) AddMemberCooperative(address, name string) error {
	canonical := types.NormalizeName(name)
	names, err := m.MemberCooperatives(address)
	if err != nil {
		return err
	}
	for _, existing := range names {
		if existing == canonical {
			return nil
		}
	}
	names = append(names, canonical)
	return m.put(hashedKey(memberCoopsPrefix, []byte(address)), names)
}
