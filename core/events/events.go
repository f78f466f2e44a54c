package events

// Event represents a structured state change emitted by a completed
// transition.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is the default wiring when a component does not care about event fan-out.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

const (
	TypeCooperativeCreated    = "coop.created"
	TypeCooperativeFunded     = "coop.funded"
	TypeContributionWithdrawn = "coop.withdrawn"
	TypeLoanIssued            = "lend.borrowed"
	TypeLoanRepaid            = "lend.repaid"
	TypeProposalCreated       = "gov.proposed"
	TypeVoteCast              = "gov.vote"
	TypeWeightWithdrawn       = "gov.weight_withdrawn"
	TypeProposalExecuted      = "gov.executed"
	TypePriceUpdated          = "oracle.price_updated"
)

// Generic is a loosely typed event carrying string attributes, mirroring the
// attribute lists the transition handlers attach to their responses.
type Generic struct {
	Type       string
	Attributes map[string]string
}

// EventType implements the Event interface.
func (g Generic) EventType() string { return g.Type }

// New builds a Generic event from alternating key/value attribute pairs.
// An odd trailing key is dropped.
func New(eventType string, kv ...string) Generic {
	attrs := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs[kv[i]] = kv[i+1]
	}
	return Generic{Type: eventType, Attributes: attrs}
}
