package apiclient

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// successEnvelope is the backend's standard success body.
type successEnvelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// errorEnvelope is the backend's standard error body.
type errorEnvelope struct {
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details"`
}

// unwrapSuccess returns the payload of a 2xx body. When the body is an
// envelope carrying a "data" key the data value is returned; otherwise the
// whole body is. An empty body yields nil.
func unwrapSuccess(body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if !json.Valid(trimmed) {
		return nil, &Error{
			Kind:       KindMalformed,
			StatusCode: http.StatusBadGateway,
			Message:    msgMalformed,
		}
	}
	if trimmed[0] != '{' {
		return json.RawMessage(trimmed), nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return json.RawMessage(trimmed), nil
	}
	if data, ok := fields["data"]; ok {
		return data, nil
	}
	return json.RawMessage(trimmed), nil
}

// parseErrorBody builds a KindHTTP error from a non-2xx response body.
func parseErrorBody(status int, body []byte) *Error {
	e := &Error{Kind: KindHTTP, StatusCode: status}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil {
		e.Message = env.Message
		if e.Message == "" {
			e.Message = env.Error
		}
		e.Code = env.Code
		if len(env.Details) > 0 && !bytes.Equal(env.Details, []byte("null")) {
			e.Details = env.Details
		}
	}
	if e.Message == "" {
		e.Message = defaultStatusMessage(status)
	}
	return e
}

// decodeInto unmarshals a payload into out. A nil out or empty payload is a
// no-op.
func decodeInto(payload json.RawMessage, out any) error {
	if out == nil || len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &Error{
			Kind:       KindMalformed,
			StatusCode: http.StatusBadGateway,
			Message:    msgMalformed,
			Err:        err,
		}
	}
	return nil
}
