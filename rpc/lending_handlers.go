package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"

	"coopchain/core/types"
	"coopchain/crypto"
)

func (s *Server) handleBorrow(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	var params struct {
		Cooperative       string   `json:"cooperative"`
		Caller            string   `json:"caller"`
		Asset             string   `json:"asset"`
		Collateral        []string `json:"collateral"`
		CollateralAmounts []string `json:"collateralAmounts"`
		MinAmountOut      string   `json:"minAmountOut,omitempty"`
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
	amounts := make([]*big.Int, 0, len(params.CollateralAmounts))
	for _, raw := range params.CollateralAmounts {
		amount, err := parseAmount(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		amounts = append(amounts, amount)
	}
	var minAmountOut *big.Int
	if params.MinAmountOut != "" {
		minAmountOut, err = parseAmount(params.MinAmountOut)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
	}
	instructions, loan, err := s.node.Borrow(params.Cooperative, caller, params.Asset, params.Collateral, amounts, minAmountOut)
	if err != nil {
		writeTransitionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"loan":         loanResults([]types.Loan{*loan})[0],
		"instructions": instructionResults(instructions),
	})
}

func (s *Server) handleRepay(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	var params struct {
		Cooperative string      `json:"cooperative"`
		Caller      string      `json:"caller"`
		Asset       string      `json:"asset"`
		Payment     string      `json:"payment,omitempty"`
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
	var payment *big.Int
	if params.Payment != "" {
		payment, err = parseAmount(params.Payment)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
	}
	coins, err := parseCoins(params.SentFunds)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	instructions, err := s.node.Repay(params.Cooperative, caller, params.Asset, payment, coins)
	if err != nil {
		writeTransitionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"instructions": instructionResults(instructions),
	})
}
