package governance

import (
	"io"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"

	"coopchain/native/coop"
)

// ProposalKind enumerates the governance proposal payloads. Only token
// whitelisting and member admission execute today; the remaining kinds are
// reserved and fail execution.
type ProposalKind uint8

const (
	ProposalKindWhitelistToken ProposalKind = iota
	ProposalKindAddMember
	ProposalKindAddLiquidity
	ProposalKindApproveLoan
	ProposalKindLiquidateCollateral
)

// String implements fmt.Stringer for logging and RPC responses.
func (k ProposalKind) String() string {
	switch k {
	case ProposalKindWhitelistToken:
		return "whitelist_token"
	case ProposalKindAddMember:
		return "add_member"
	case ProposalKindAddLiquidity:
		return "add_liquidity"
	case ProposalKindApproveLoan:
		return "approve_loan"
	case ProposalKindLiquidateCollateral:
		return "liquidate_collateral"
	default:
		return "unknown"
	}
}

// Payload is the tagged proposal body. Each kind carries exactly the fields
// its execution path needs, so structural validation happens at proposal
// creation rather than being deferred to execution.
type Payload interface {
	Kind() ProposalKind
	// Validate checks the structural requirements of the payload.
	Validate() error
}

// WhitelistTokenPayload requests a new whitelisted token for the cooperative.
type WhitelistTokenPayload struct {
	Denom           string
	ContractAddr    string
	IsNative        bool
	MaxLoanRatioBps uint64
}

// Kind implements the Payload interface.
func (WhitelistTokenPayload) Kind() ProposalKind { return ProposalKindWhitelistToken }

// Validate requires a denom, and a contract address unless the token is
// explicitly native.
func (p WhitelistTokenPayload) Validate() error {
	if strings.TrimSpace(p.Denom) == "" {
		return coop.ErrInvalidProposal
	}
	if !p.IsNative && strings.TrimSpace(p.ContractAddr) == "" {
		return coop.ErrInvalidProposal
	}
	return nil
}

// AddMemberPayload requests admission of a new cooperative member.
type AddMemberPayload struct {
	Address string
}

// Kind implements the Payload interface.
func (AddMemberPayload) Kind() ProposalKind { return ProposalKindAddMember }

// Validate requires the target member address.
func (p AddMemberPayload) Validate() error {
	if strings.TrimSpace(p.Address) == "" {
		return coop.ErrInvalidProposal
	}
	return nil
}

// ReservedPayload stands in for proposal kinds that are accepted into the
// lifecycle but whose execution path is not implemented yet.
type ReservedPayload struct {
	Reserved ProposalKind
}

// Kind implements the Payload interface.
func (p ReservedPayload) Kind() ProposalKind { return p.Reserved }

// Validate accepts reserved payloads; execution rejects them instead so the
// rejection is recorded against the proposal rather than the submission.
func (ReservedPayload) Validate() error { return nil }

// Vote records a single ballot. A voter appears at most once per proposal;
// conviction is zeroed on withdrawal, never removed, preserving the audit
// history.
type Vote struct {
	Voter      string
	Conviction *big.Int
	Aye        bool
	VotedAt    uint64
}

// Outcome is the finalization result. It is set at most once and only
// transitions from unset.
type Outcome uint8

const (
	OutcomeUnset Outcome = iota
	OutcomePassed
	OutcomeRejected
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case OutcomePassed:
		return "passed"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unset"
	}
}

// Proposal captures the full lifecycle record: creation metadata, the tagged
// payload, running tallies, and the finalization/execution flags.
type Proposal struct {
	ID              uint64
	CooperativeName string
	Description     string
	Payload         Payload
	Votes           []Vote
	AyeCount        uint64
	NayCount        uint64
	AyeWeights      *big.Int
	NayWeights      *big.Int
	// EndTime is the voting window boundary in unix seconds.
	EndTime uint64
	// QuorumBps enables synchronous auto-finalization when non-zero.
	QuorumBps uint64
	Outcome   Outcome
	Executed  bool
}

// VoteBy returns the index of the ballot cast by the voter, or -1.
func (p *Proposal) VoteBy(voter string) int {
	for i := range p.Votes {
		if p.Votes[i].Voter == voter {
			return i
		}
	}
	return -1
}

// proposalRLP is the persistence envelope. The tagged payload is flattened
// into a kind byte plus its own RLP encoding so the union survives a codec
// that has no notion of interfaces.
type proposalRLP struct {
	ID              uint64
	CooperativeName string
	Description     string
	PayloadKind     uint8
	PayloadRaw      []byte
	Votes           []Vote
	AyeCount        uint64
	NayCount        uint64
	AyeWeights      *big.Int
	NayWeights      *big.Int
	EndTime         uint64
	QuorumBps       uint64
	Outcome         uint8
	Executed        bool
}

// EncodeRLP implements rlp.Encoder.
func (p *Proposal) EncodeRLP(w io.Writer) error {
	var (
		raw  []byte
		kind uint8
		err  error
	)
	if p.Payload != nil {
		kind = uint8(p.Payload.Kind())
		raw, err = rlp.EncodeToBytes(p.Payload)
		if err != nil {
			return err
		}
	}
	env := proposalRLP{
		ID:              p.ID,
		CooperativeName: p.CooperativeName,
		Description:     p.Description,
		PayloadKind:     kind,
		PayloadRaw:      raw,
		Votes:           p.Votes,
		AyeCount:        p.AyeCount,
		NayCount:        p.NayCount,
		AyeWeights:      p.AyeWeights,
		NayWeights:      p.NayWeights,
		EndTime:         p.EndTime,
		QuorumBps:       p.QuorumBps,
		Outcome:         uint8(p.Outcome),
		Executed:        p.Executed,
	}
	return rlp.Encode(w, &env)
}

// DecodeRLP implements rlp.Decoder.
func (p *Proposal) DecodeRLP(s *rlp.Stream) error {
	var env proposalRLP
	if err := s.Decode(&env); err != nil {
		return err
	}
	payload, err := decodePayload(ProposalKind(env.PayloadKind), env.PayloadRaw)
	if err != nil {
		return err
	}
	p.ID = env.ID
	p.CooperativeName = env.CooperativeName
	p.Description = env.Description
	p.Payload = payload
	p.Votes = env.Votes
	p.AyeCount = env.AyeCount
	p.NayCount = env.NayCount
	p.AyeWeights = env.AyeWeights
	p.NayWeights = env.NayWeights
	p.EndTime = env.EndTime
	p.QuorumBps = env.QuorumBps
	p.Outcome = Outcome(env.Outcome)
	p.Executed = env.Executed
	if p.AyeWeights == nil {
		p.AyeWeights = big.NewInt(0)
	}
	if p.NayWeights == nil {
		p.NayWeights = big.NewInt(0)
	}
	return nil
}

func decodePayload(kind ProposalKind, raw []byte) (Payload, error) {
	if len(raw) == 0 {
		return ReservedPayload{Reserved: kind}, nil
	}
	switch kind {
	case ProposalKindWhitelistToken:
		var p WhitelistTokenPayload
		if err := rlp.DecodeBytes(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case ProposalKindAddMember:
		var p AddMemberPayload
		if err := rlp.DecodeBytes(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		var p ReservedPayload
		if err := rlp.DecodeBytes(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	}
}
