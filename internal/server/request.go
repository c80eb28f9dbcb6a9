package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wehubfusion/Talos/pkg/service"
)

// Run statuses reported in a Response.
const (
	StatusSucceeded = "succeeded"
	StatusCanceled  = "canceled"
	StatusFailed    = "failed"
)

// Request asks for one module run. Args is either a JSON array of positional
// values or an object keyed by input name.
type Request struct {
	Module string          `json:"module"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// Response is the reply to a Request.
type Response struct {
	ExecutionID string         `json:"execution_id,omitempty"`
	Module      string         `json:"module,omitempty"`
	Status      string         `json:"status"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	Unresolved  []string       `json:"unresolved,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// DecodeArgs turns raw request arguments into service arguments.
func DecodeArgs(raw json.RawMessage) (service.Args, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return service.Positional(nil), nil
	}
	switch raw[0] {
	case '[':
		var values []any
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, fmt.Errorf("invalid positional args: %w", err)
		}
		return service.Positional(values), nil
	case '{':
		var named map[string]any
		if err := json.Unmarshal(raw, &named); err != nil {
			return nil, fmt.Errorf("invalid named args: %w", err)
		}
		return service.Named(named), nil
	default:
		return nil, errors.New("args must be an array or an object")
	}
}
