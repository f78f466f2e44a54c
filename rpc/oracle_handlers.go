package rpc

import (
	"encoding/json"
	"net/http"

	"coopchain/crypto"
)

func (s *Server) handleUpdatePrice(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	var params struct {
		Caller   string `json:"caller"`
		Asset    string `json:"asset"`
		USDPrice string `json:"usdPrice"`
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
	price, err := parseAmount(params.USDPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.UpdatePrice(caller, params.Asset, price); err != nil {
		writeTransitionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"updated": true})
}

func (s *Server) handleGetPrice(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "asset reference required", nil)
		return
	}
	var reference string
	if err := json.Unmarshal(req.Params[0], &reference); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset reference", err.Error())
		return
	}
	price, err := s.node.GetPrice(reference)
	if err != nil {
		writeTransitionError(w, req.ID, err)
		return
	}
	usd := "0"
	if price.USDPrice != nil {
		usd = price.USDPrice.String()
	}
	writeResult(w, req.ID, map[string]interface{}{
		"usdPrice":  usd,
		"updatedAt": price.UpdatedAt,
	})
}
