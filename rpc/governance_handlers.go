package rpc

import (
	"encoding/json"
	"net/http"

	"coopchain/crypto"
	"coopchain/native/governance"
)

// VoteResult is the wire form of a ballot.
type VoteResult struct {
	Voter      string `json:"voter"`
	Conviction string `json:"conviction"`
	Aye        bool   `json:"aye"`
	VotedAt    uint64 `json:"votedAt"`
}

// ProposalResult is the wire form of a proposal record.
type ProposalResult struct {
	ID          uint64          `json:"id"`
	Cooperative string          `json:"cooperative"`
	Description string          `json:"description"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Votes       []VoteResult    `json:"votes"`
	AyeCount    uint64          `json:"ayeCount"`
	NayCount    uint64          `json:"nayCount"`
	AyeWeights  string          `json:"ayeWeights"`
	NayWeights  string          `json:"nayWeights"`
	EndTime     uint64          `json:"endTime"`
	QuorumBps   uint64          `json:"quorumBps"`
	Outcome     string          `json:"outcome"`
	Executed    bool            `json:"executed"`
}

func proposalResult(proposal *governance.Proposal) ProposalResult {
	votes := make([]VoteResult, len(proposal.Votes))
	for i, vote := range proposal.Votes {
		conviction := "0"
		if vote.Conviction != nil {
			conviction = vote.Conviction.String()
		}
		votes[i] = VoteResult{
			Voter:      vote.Voter,
			Conviction: conviction,
			Aye:        vote.Aye,
			VotedAt:    vote.VotedAt,
		}
	}
	ayeWeights := "0"
	if proposal.AyeWeights != nil {
		ayeWeights = proposal.AyeWeights.String()
	}
	nayWeights := "0"
	if proposal.NayWeights != nil {
		nayWeights = proposal.NayWeights.String()
	}
	result := ProposalResult{
		ID:          proposal.ID,
		Cooperative: proposal.CooperativeName,
		Description: proposal.Description,
		Votes:       votes,
		AyeCount:    proposal.AyeCount,
		NayCount:    proposal.NayCount,
		AyeWeights:  ayeWeights,
		NayWeights:  nayWeights,
		EndTime:     proposal.EndTime,
		QuorumBps:   proposal.QuorumBps,
		Outcome:     proposal.Outcome.String(),
		Executed:    proposal.Executed,
	}
	if proposal.Payload != nil {
		result.Kind = proposal.Payload.Kind().String()
		if raw, err := json.Marshal(proposal.Payload); err == nil {
			result.Payload = raw
		}
	}
	return result
}

func parsePayload(kind string, raw json.RawMessage) (governance.Payload, bool) {
	switch kind {
	case "whitelist_token":
		var p struct {
			Denom           string `json:"denom"`
			ContractAddr    string `json:"contractAddr,omitempty"`
			IsNative        bool   `json:"isNative"`
			MaxLoanRatioBps uint64 `json:"maxLoanRatioBps"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, false
		}
		return governance.WhitelistTokenPayload{
			Denom:           p.Denom,
			ContractAddr:    p.ContractAddr,
			IsNative:        p.IsNative,
			MaxLoanRatioBps: p.MaxLoanRatioBps,
		}, true
	case "add_member":
		var p struct {
			Address string `json:"address"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, false
		}
		return governance.AddMemberPayload{Address: p.Address}, true
	case "add_liquidity":
		return governance.ReservedPayload{Reserved: governance.ProposalKindAddLiquidity}, true
	case "approve_loan":
		return governance.ReservedPayload{Reserved: governance.ProposalKindApproveLoan}, true
	case "liquidate_collateral":
		return governance.ReservedPayload{Reserved: governance.ProposalKindLiquidateCollateral}, true
	default:
		return nil, false
	}
}

func (s *Server) handlePropose(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	var params struct {
		Cooperative string          `json:"cooperative"`
		Caller      string          `json:"caller"`
		Description string          `json:"description"`
		Kind        string          `json:"kind"`
		Payload     json.RawMessage `json:"payload,omitempty"`
		EndTime     uint64          `json:"endTime"`
		QuorumBps   uint64          `json:"quorumBps,omitempty"`
	}
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := crypto.DecodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "failed to decode caller address", err.Error())
		return
	}
	payload, ok := parsePayload(params.Kind, params.Payload)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid proposal payload", params.Kind)
		return
	}
	proposal, err := s.node.Propose(params.Cooperative, caller, params.Description, payload, params.EndTime, params.QuorumBps)
	if err != nil {
		writeTransitionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, proposalResult(proposal))
}

func (s *Server) handleVote(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	var params struct {
		ProposalID uint64 `json:"proposalId"`
		Caller     string `json:"caller"`
		Conviction string `json:"conviction"`
		Aye        bool   `json:"aye"`
	}
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := crypto.DecodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "failed to decode caller address", err.Error())
		return
	}
	conviction, err := parseAmount(params.Conviction)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	instructions, err := s.node.Vote(params.ProposalID, caller, conviction, params.Aye)
	if err != nil {
		writeTransitionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"instructions": instructionResults(instructions),
	})
}

func (s *Server) handleWithdrawWeight(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	var params struct {
		ProposalID uint64 `json:"proposalId"`
		Caller     string `json:"caller"`
	}
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := crypto.DecodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "failed to decode caller address", err.Error())
		return
	}
	instructions, amount, err := s.node.WithdrawWeight(params.ProposalID, caller)
	if err != nil {
		writeTransitionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"amount":       amount.String(),
		"instructions": instructionResults(instructions),
	})
}

func (s *Server) handleExecuteProposal(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	var params struct {
		ProposalID uint64 `json:"proposalId"`
		Caller     string `json:"caller"`
	}
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := crypto.DecodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "failed to decode caller address", err.Error())
		return
	}
	if err := s.node.ExecuteProposal(params.ProposalID, caller); err != nil {
		writeTransitionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"executed": true})
}

func (s *Server) handleGetProposal(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "proposal id required", nil)
		return
	}
	var id uint64
	if err := json.Unmarshal(req.Params[0], &id); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid proposal id", err.Error())
		return
	}
	proposal, err := s.node.GetProposal(id)
	if err != nil {
		writeTransitionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, proposalResult(proposal))
}

func (s *Server) handleListProposals(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "cooperative name required", nil)
		return
	}
	var name string
	if err := json.Unmarshal(req.Params[0], &name); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid cooperative name", err.Error())
		return
	}
	ids, err := s.node.CooperativeProposals(name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, ids)
}
