package server

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/sentinel/internal/governance"
	"github.com/ppiankov/sentinel/internal/model"
)

// Messages of the sentinel.v1.Governance service. On the wire each one is
// a google.protobuf.Struct holding its JSON form.

type ProposeRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

type ProposeResponse struct {
	Proposal *governance.Proposal `json:"proposal"`
	// Outcome explains why a persisted call did not execute.
	Outcome string `json:"outcome,omitempty"`
}

type ResolveRequest struct {
	ID       string `json:"tool_call_id"`
	Note     string `json:"note,omitempty"`
	Approver string `json:"approver,omitempty"`
}

type ResolveResponse struct {
	Resolution *governance.Resolution `json:"resolution"`
	Outcome    string                 `json:"outcome,omitempty"`
}

type ListRequest struct {
	Limit int `json:"limit,omitempty"`
}

type ListResponse struct {
	ToolCalls []model.Record `json:"tool_calls"`
}

type GetRequest struct {
	ID string `json:"tool_call_id"`
}

type GetResponse struct {
	ToolCall model.Record `json:"tool_call"`
}

type RegisterServerRequest struct {
	Name       string `json:"name"`
	BaseURL    string `json:"base_url"`
	ToolPrefix string `json:"tool_prefix"`
	AuthHeader string `json:"auth_header,omitempty"`
	AuthToken  string `json:"auth_token,omitempty"`
}

type RegisterServerResponse struct {
	Server model.BackendRegistration `json:"server"`
}

type ServerRequest struct {
	Server string `json:"server_name"`
}

type ServersResponse struct {
	Servers []model.BackendRegistration `json:"servers"`
}

type ToolsResponse struct {
	Tools []model.ToolContract `json:"tools"`
}

// EncodeStruct converts v to a Struct through its JSON form.
func EncodeStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return structpb.NewStruct(m)
}

// DecodeStruct fills v from a Struct. A nil Struct leaves v zero.
func DecodeStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}
