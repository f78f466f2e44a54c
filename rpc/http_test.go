package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"coopchain/core"
	"coopchain/crypto"
	"coopchain/storage"
)

const testAuthToken = "test-token"

func testAddress(seed byte) crypto.Address {
	buf := make([]byte, 20)
	for i := range buf {
		buf[i] = seed
	}
	return crypto.NewAddress(crypto.CoopPrefix, buf)
}

func newTestServer(t *testing.T) (*Server, crypto.Address) {
	t.Helper()
	owner := testAddress(0xAA)
	node := core.NewNode(storage.NewMemDB(), owner, nil)
	require.NoError(t, node.InitGenesis(owner.String(), "cooptoken1weight"))
	return NewServer(node, testAuthToken), owner
}

type rpcTestResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func post(t *testing.T, s *Server, method string, params interface{}, authed bool) (*httptest.ResponseRecorder, *rpcTestResponse) {
	t.Helper()
	body := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		body["params"] = []interface{}{params}
	}
	encoded, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(encoded))
	if authed {
		req.Header.Set("Authorization", "Bearer "+testAuthToken)
	}
	recorder := httptest.NewRecorder()
	s.handle(recorder, req)

	resp := &rpcTestResponse{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), resp))
	return recorder, resp
}

func createCooperative(t *testing.T, s *Server, member crypto.Address) {
	t.Helper()
	recorder, resp := post(t, s, "coop_createCooperative", map[string]interface{}{
		"name":                      "Harvest",
		"interestRateBps":           750,
		"collateralizationRatioBps": 8000,
		"members":                   []string{member.String()},
		"tokens": []map[string]interface{}{
			{"denom": "ucoop", "isNative": true, "maxLoanRatioBps": 9000},
		},
	}, true)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Nil(t, resp.Error)
}

func TestMutatingMethodsRequireAuth(t *testing.T) {
	s, _ := newTestServer(t)

	recorder, resp := post(t, s, "coop_createCooperative", map[string]interface{}{"name": "x"}, false)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)
}

func TestUnknownMethod(t *testing.T) {
	s, _ := newTestServer(t)

	recorder, resp := post(t, s, "coop_unknown", nil, false)
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestCreateAndQueryCooperative(t *testing.T) {
	s, _ := newTestServer(t)
	member := testAddress(0x01)
	createCooperative(t, s, member)

	recorder, resp := post(t, s, "coop_getCooperative", "harvest", false)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Nil(t, resp.Error)

	var result CooperativeResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Equal(t, "harvest", result.Name)
	require.Len(t, result.Members, 1)
	require.Equal(t, member.String(), result.Members[0].Address)
	require.Len(t, result.WhitelistedTokens, 1)
	require.Equal(t, uint64(1), result.WhitelistedTokens[0].AssetID)
}

func TestGetCooperativeNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	recorder, resp := post(t, s, "coop_getCooperative", "missing", false)
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeNotFound, resp.Error.Code)
}

func TestFundAndContributionQuery(t *testing.T) {
	s, owner := newTestServer(t)
	member := testAddress(0x01)
	createCooperative(t, s, member)

	recorder, resp := post(t, s, "coop_fund", map[string]interface{}{
		"cooperative": "harvest",
		"caller":      member.String(),
		"asset":       "ucoop",
		"amount":      "1000",
		"sentFunds": []map[string]interface{}{
			{"denom": "ucoop", "amount": "1000"},
		},
	}, true)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Nil(t, resp.Error)

	var fundResult struct {
		Instructions []InstructionResult `json:"instructions"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &fundResult))
	require.Len(t, fundResult.Instructions, 1)
	require.Equal(t, "native_send", fundResult.Instructions[0].Kind)
	require.Equal(t, owner.String(), fundResult.Instructions[0].To)

	recorder, resp = post(t, s, "coop_getContributionAndShare", map[string]interface{}{
		"cooperative": "harvest",
		"address":     member.String(),
		"asset":       "ucoop",
	}, false)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Nil(t, resp.Error)

	var contrib map[string]string
	require.NoError(t, json.Unmarshal(resp.Result, &contrib))
	require.Equal(t, "1000", contrib["contribution"])
	require.Equal(t, "0", contrib["share"])
}

func TestFundValueFailureMapsToBadRequest(t *testing.T) {
	s, _ := newTestServer(t)
	member := testAddress(0x01)
	createCooperative(t, s, member)

	// Sent funds do not match the declared amount.
	recorder, resp := post(t, s, "coop_fund", map[string]interface{}{
		"cooperative": "harvest",
		"caller":      member.String(),
		"asset":       "ucoop",
		"amount":      "1000",
		"sentFunds": []map[string]interface{}{
			{"denom": "ucoop", "amount": "999"},
		},
	}, true)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeValueFailure, resp.Error.Code)
}

func TestListCooperatives(t *testing.T) {
	s, _ := newTestServer(t)
	member := testAddress(0x01)
	createCooperative(t, s, member)

	recorder, resp := post(t, s, "coop_listCooperatives", nil, false)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Nil(t, resp.Error)

	var names []string
	require.NoError(t, json.Unmarshal(resp.Result, &names))
	require.Equal(t, []string{"harvest"}, names)
}

func TestOraclePriceFlow(t *testing.T) {
	s, owner := newTestServer(t)
	member := testAddress(0x01)
	createCooperative(t, s, member)

	recorder, resp := post(t, s, "oracle_updatePrice", map[string]interface{}{
		"caller":   owner.String(),
		"asset":    "ucoop",
		"usdPrice": "5",
	}, true)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Nil(t, resp.Error)

	recorder, resp = post(t, s, "oracle_getPrice", "ucoop", false)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Nil(t, resp.Error)

	var price struct {
		USDPrice string `json:"usdPrice"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &price))
	require.Equal(t, "5", price.USDPrice)
}

func TestRateLimitExhaustion(t *testing.T) {
	s, owner := newTestServer(t)
	member := testAddress(0x01)
	createCooperative(t, s, member)

	var lastCode int
	for i := 0; i < maxTxPerWindow+1; i++ {
		recorder, _ := post(t, s, "oracle_updatePrice", map[string]interface{}{
			"caller":   owner.String(),
			"asset":    "ucoop",
			"usdPrice": fmt.Sprintf("%d", i+1),
		}, true)
		lastCode = recorder.Code
	}
	require.Equal(t, http.StatusTooManyRequests, lastCode)
}
