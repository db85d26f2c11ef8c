package domain

import "encoding/json"

// RequestType is the closed set of client request discriminants. Dispatch is
// an exhaustive switch; anything outside the set is a typed validation error,
// not a runtime surprise.
type RequestType string

const (
	RequestPortfolio RequestType = "portfolio"
	RequestAnalysis  RequestType = "analysis"
	RequestChat      RequestType = "chat"
)

// Valid reports whether t is a known request discriminant.
func (t RequestType) Valid() bool {
	switch t {
	case RequestPortfolio, RequestAnalysis, RequestChat:
		return true
	}
	return false
}

// ClientRequest is the tagged request body accepted by POST /v1/requests.
type ClientRequest struct {
	Type       RequestType     `json:"type"`
	Content    string          `json:"content,omitempty"`
	AccountRef string          `json:"account_ref,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// ClientResponse is the uniform response envelope: a success flag, a data
// object on success, a short message on failure. Internal error detail never
// crosses this boundary.
type ClientResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}
