// ABOUTME: Wire framing for the /rpc endpoint: one JSON record per websocket frame.
// ABOUTME: Requests {id,method,params}; replies {id,result}|{id,error}; notifications {method,params}.

package rpc

import (
	"encoding/json"
)

type request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type wireError struct {
	Message string          `json:"message"`
	Code    *int            `json:"code,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// inbound is the union of everything the backend may send.
type inbound struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *wireError      `json:"error"`
}

func encodeRequest(id uint64, method string, params json.RawMessage) ([]byte, error) {
	return json.Marshal(request{ID: id, Method: method, Params: params})
}

// decodeInbound reports ok=false for frames that are not a JSON object.
func decodeInbound(data []byte) (inbound, bool) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return inbound{}, false
	}
	return msg, true
}
