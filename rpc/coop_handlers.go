package rpc

import (
	"encoding/json"
	"net/http"

	"coopchain/core/types"
	"coopchain/crypto"
)

type tokenParam struct {
	Denom           string `json:"denom"`
	ContractAddr    string `json:"contractAddr,omitempty"`
	IsNative        bool   `json:"isNative"`
	MaxLoanRatioBps uint64 `json:"maxLoanRatioBps"`
}

type coinParam struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

func parseCoins(params []coinParam) ([]types.Coin, error) {
	coins := make([]types.Coin, 0, len(params))
	for _, p := range params {
		amount, err := parseAmount(p.Amount)
		if err != nil {
			return nil, err
		}
		coins = append(coins, types.Coin{Denom: p.Denom, Amount: amount})
	}
	return coins, nil
}

// TokenResult is the wire form of a whitelisted token.
type TokenResult struct {
	AssetID         uint64 `json:"assetId"`
	Denom           string `json:"denom"`
	ContractAddr    string `json:"contractAddr,omitempty"`
	IsNative        bool   `json:"isNative"`
	MaxLoanRatioBps uint64 `json:"maxLoanRatioBps"`
}

// TokenAmountResult is the wire form of an asset balance entry.
type TokenAmountResult struct {
	AssetID uint64 `json:"assetId"`
	Amount  string `json:"amount"`
}

// LoanResult is the wire form of a loan record.
type LoanResult struct {
	ID              uint64              `json:"id"`
	Amount          string              `json:"amount"`
	AssetID         uint64              `json:"assetId"`
	Collateral      []TokenAmountResult `json:"collateral"`
	InterestRateBps uint64              `json:"interestRateBps"`
	Status          string              `json:"status"`
}

// MemberResult is the wire form of a member position.
type MemberResult struct {
	Address            string              `json:"address"`
	Contribution       []TokenAmountResult `json:"contribution"`
	Share              []TokenAmountResult `json:"share"`
	Loans              []LoanResult        `json:"loans"`
	JoinedAt           uint64              `json:"joinedAt"`
	ReputationScoreBps uint64              `json:"reputationScoreBps"`
}

// CooperativeResult is the wire form of a cooperative record.
type CooperativeResult struct {
	Name                      string              `json:"name"`
	Members                   []MemberResult      `json:"members"`
	InterestRateBps           uint64              `json:"interestRateBps"`
	CollateralizationRatioBps uint64              `json:"collateralizationRatioBps"`
	WhitelistedTokens         []TokenResult       `json:"whitelistedTokens"`
	TotalFunds                []TokenAmountResult `json:"totalFunds"`
}

func tokenAmountResults(entries []types.TokenAmount) []TokenAmountResult {
	out := make([]TokenAmountResult, len(entries))
	for i, entry := range entries {
		amount := "0"
		if entry.Amount != nil {
			amount = entry.Amount.String()
		}
		out[i] = TokenAmountResult{AssetID: entry.AssetID, Amount: amount}
	}
	return out
}

func loanResults(loans []types.Loan) []LoanResult {
	out := make([]LoanResult, len(loans))
	for i, loan := range loans {
		amount := "0"
		if loan.Amount != nil {
			amount = loan.Amount.String()
		}
		collateral := make([]TokenAmountResult, 0, len(loan.Collaterals))
		for j, assetID := range loan.Collaterals {
			entry := TokenAmountResult{AssetID: assetID, Amount: "0"}
			if j < len(loan.CollateralAmounts) && loan.CollateralAmounts[j] != nil {
				entry.Amount = loan.CollateralAmounts[j].String()
			}
			collateral = append(collateral, entry)
		}
		out[i] = LoanResult{
			ID:              loan.ID,
			Amount:          amount,
			AssetID:         loan.AssetID,
			Collateral:      collateral,
			InterestRateBps: loan.InterestRateBps,
			Status:          loan.Status.String(),
		}
	}
	return out
}

func memberResult(member types.Member) MemberResult {
	return MemberResult{
		Address:            member.Address,
		Contribution:       tokenAmountResults(member.Contribution),
		Share:              tokenAmountResults(member.Share),
		Loans:              loanResults(member.Loans),
		JoinedAt:           member.JoinedAt,
		ReputationScoreBps: member.ReputationScoreBps,
	}
}

func tokenResults(tokens []types.WhitelistedToken) []TokenResult {
	out := make([]TokenResult, len(tokens))
	for i, token := range tokens {
		out[i] = TokenResult{
			AssetID:         token.AssetID,
			Denom:           token.Denom,
			ContractAddr:    token.ContractAddr,
			IsNative:        token.IsNative,
			MaxLoanRatioBps: token.MaxLoanRatioBps,
		}
	}
	return out
}

func cooperativeResult(record *types.Cooperative) CooperativeResult {
	members := make([]MemberResult, len(record.Members))
	for i, member := range record.Members {
		members[i] = memberResult(member)
	}
	return CooperativeResult{
		Name:                      record.Name,
		Members:                   members,
		InterestRateBps:           record.RiskProfile.InterestRateBps,
		CollateralizationRatioBps: record.RiskProfile.CollateralizationRatioBps,
		WhitelistedTokens:         tokenResults(record.WhitelistedTokens),
		TotalFunds:                tokenAmountResults(record.TotalFunds),
	}
}

func (s *Server) handleCreateCooperative(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	var params struct {
		Name                      string       `json:"name"`
		InterestRateBps           uint64       `json:"interestRateBps"`
		CollateralizationRatioBps uint64       `json:"collateralizationRatioBps"`
		Members                   []string     `json:"members"`
		Tokens                    []tokenParam `json:"tokens"`
	}
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	tokens := make([]types.WhitelistedToken, 0, len(params.Tokens))
	for _, t := range params.Tokens {
		tokens = append(tokens, types.WhitelistedToken{
			Denom:           t.Denom,
			ContractAddr:    t.ContractAddr,
			IsNative:        t.IsNative,
			MaxLoanRatioBps: t.MaxLoanRatioBps,
		})
	}
	profile := types.RiskProfile{
		InterestRateBps:           params.InterestRateBps,
		CollateralizationRatioBps: params.CollateralizationRatioBps,
	}
	record, err := s.node.CreateCooperative(params.Name, profile, params.Members, tokens)
	if err != nil {
		writeTransitionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, cooperativeResult(record))
}

func (s *Server) handleFund(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	var params struct {
		Cooperative string      `json:"cooperative"`
		Caller      string      `json:"caller"`
		Asset       string      `json:"asset"`
		Amount      string      `json:"amount"`
		SentFunds   []coinParam `json:"sentFunds,omitempty"`
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
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	coins, err := parseCoins(params.SentFunds)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	instructions, err := s.node.Fund(params.Cooperative, caller, params.Asset, amount, coins)
	if err != nil {
		writeTransitionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"instructions": instructionResults(instructions),
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	var params struct {
		Cooperative string `json:"cooperative"`
		Caller      string `json:"caller"`
		Asset       string `json:"asset"`
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
	instructions, principal, reward, err := s.node.WithdrawContributionAndReward(params.Cooperative, caller, params.Asset)
	if err != nil {
		writeTransitionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"principal":    principal.String(),
		"reward":       reward.String(),
		"instructions": instructionResults(instructions),
	})
}

func (s *Server) handleGetCooperative(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "cooperative name required", nil)
		return
	}
	var name string
	if err := json.Unmarshal(req.Params[0], &name); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid cooperative name", err.Error())
		return
	}
	record, err := s.node.GetCooperative(name)
	if err != nil {
		writeTransitionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, cooperativeResult(record))
}

func (s *Server) handleGetMemberInfo(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	var params struct {
		Cooperative string `json:"cooperative"`
		Address     string `json:"address"`
	}
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	member, err := s.node.GetMemberInfo(params.Cooperative, params.Address)
	if err != nil {
		writeTransitionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, memberResult(*member))
}

func (s *Server) handleGetContributionAndShare(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	var params struct {
		Cooperative string `json:"cooperative"`
		Address     string `json:"address"`
		Asset       string `json:"asset"`
	}
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	contribution, share, err := s.node.ContributionAndShare(params.Cooperative, params.Address, params.Asset)
	if err != nil {
		writeTransitionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"contribution": contribution.String(),
		"share":        share.String(),
	})
}

func (s *Server) handleListCooperatives(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Min string `json:"min,omitempty"`
		Max string `json:"max,omitempty"`
	}
	if len(req.Params) > 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "too many parameters", nil)
		return
	}
	if len(req.Params) == 1 {
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
			return
		}
	}
	names, err := s.node.ListCooperatives(params.Min, params.Max)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, names)
}

func (s *Server) handleGetWhitelistedTokens(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "cooperative name required", nil)
		return
	}
	var name string
	if err := json.Unmarshal(req.Params[0], &name); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid cooperative name", err.Error())
		return
	}
	tokens, err := s.node.WhitelistedTokens(name)
	if err != nil {
		writeTransitionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, tokenResults(tokens))
}

func (s *Server) handleGetAssetID(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "asset reference required", nil)
		return
	}
	var reference string
	if err := json.Unmarshal(req.Params[0], &reference); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset reference", err.Error())
		return
	}
	id, err := s.node.GetAssetID(reference)
	if err != nil {
		writeTransitionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]uint64{"assetId": id})
}

func (s *Server) handleMemberCooperatives(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "address required", nil)
		return
	}
	var address string
	if err := json.Unmarshal(req.Params[0], &address); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	names, err := s.node.MemberCooperatives(address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, names)
}

func (s *Server) handleProtocolInfo(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	protocol, err := s.node.ProtocolInfo()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"owner":             protocol.Owner,
		"weightToken":       protocol.WeightToken,
		"totalCooperatives": protocol.TotalCooperatives,
		"totalPooledFunds":  tokenAmountResults(protocol.TotalPooledFunds),
		"currentProposalId": protocol.CurrentProposalID,
		"currentAssetId":    protocol.CurrentAssetID,
		"currentLoanId":     protocol.CurrentLoanID,
	})
}
