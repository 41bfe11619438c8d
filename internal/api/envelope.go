package api

import (
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// EnvelopeVersion is the response envelope version sent as "v".
const EnvelopeVersion = 1

// Envelope is the JSON wrapper around every /api response body.
type Envelope struct {
	Version int    `json:"v"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

// EnvelopeTransformer wraps response bodies in an Envelope. The health
// endpoint and the OpenAPI documents are left bare.
func EnvelopeTransformer(ctx huma.Context, status string, v any) (any, error) {
	if ctx != nil {
		if op := ctx.Operation(); op == nil || !strings.HasPrefix(op.Path, "/api/") {
			return v, nil
		}
	}

	if apiErr, ok := v.(*APIError); ok {
		env := Envelope{
			Version: EnvelopeVersion,
			Error:   apiErr.Message,
		}
		if apiErr.Code != "" {
			env.Code = apiErr.Code
			env.Message = apiErr.Message
			env.Details = apiErr.Details
		}
		return env, nil
	}

	return Envelope{
		Version: EnvelopeVersion,
		Success: !strings.HasPrefix(status, "4") && !strings.HasPrefix(status, "5"),
		Data:    v,
	}, nil
}
