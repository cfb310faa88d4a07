package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Remote status strings reported by the gateway. Anything else is treated as
// "still working" by the poller.
const (
	RemoteCompleted = "completed"
	RemoteError     = "error"
)

// StatusPayload is one decoded response from the status endpoint.
// Raw keeps the full body so method-specific fields can be projected later.
type StatusPayload struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Raw     json.RawMessage `json:"raw,omitempty"`
}

// ParseStatusPayload decodes a status body. The status field is required.
func ParseStatusPayload(data []byte) (*StatusPayload, error) {
	// message and error are not always strings; only the status is strict.
	var head struct {
		Status  string `json:"status"`
		Message any    `json:"message"`
		Error   any    `json:"error"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to decode status payload: %w", err)
	}
	if head.Status == "" {
		return nil, fmt.Errorf("status payload has no status field")
	}
	msg, _ := head.Message.(string)
	if msg == "" {
		msg, _ = head.Error.(string)
	}
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	return &StatusPayload{
		Status:  strings.ToLower(strings.TrimSpace(head.Status)),
		Message: msg,
		Raw:     raw,
	}, nil
}

// Decode unmarshals the raw body into v.
func (p *StatusPayload) Decode(v any) error {
	if p == nil || len(p.Raw) == 0 {
		return fmt.Errorf("empty status payload")
	}
	return json.Unmarshal(p.Raw, v)
}

// Clone returns a deep copy.
func (p *StatusPayload) Clone() *StatusPayload {
	if p == nil {
		return nil
	}
	c := *p
	if p.Raw != nil {
		c.Raw = append(json.RawMessage(nil), p.Raw...)
	}
	return &c
}

// SimStatusPayload is one decoded response from the simulation status endpoint.
type SimStatusPayload struct {
	Status      string      `json:"status"`
	Message     string      `json:"message,omitempty"`
	Output      string      `json:"output,omitempty"`
	OutputFiles OutputFiles `json:"output_files"`
}

// ParseSimStatusPayload decodes a simulation status body.
func ParseSimStatusPayload(data []byte) (*SimStatusPayload, error) {
	var p SimStatusPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode simulation status payload: %w", err)
	}
	if p.Status == "" {
		return nil, fmt.Errorf("simulation status payload has no status field")
	}
	p.Status = strings.ToLower(strings.TrimSpace(p.Status))
	return &p, nil
}

// UnmarshalJSON accepts booleans, file paths or nested objects for each flag:
// the backend reports either presence flags or the produced file names.
func (o *OutputFiles) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode output_files: %w", err)
	}
	o.DAT = truthy(raw["dat"])
	o.MSG = truthy(raw["msg"])
	o.ODB = truthy(raw["odb"])
	o.STA = truthy(raw["sta"])
	return nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return strings.TrimSpace(t) != ""
	case float64:
		return t != 0
	default:
		return true
	}
}
