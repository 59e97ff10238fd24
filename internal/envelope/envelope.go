// Package envelope defines the typed Message Envelope (§3.2) used on
// every orchestrator<->agent hop. spec.md's source models messages as
// loose keyed bags (§9's "dynamic, keyword-driven payloads" note); here
// MessageType is a closed tagged union and dispatch happens on Type,
// never on a string lookup inside Payload.
package envelope

import (
	"time"

	"github.com/google/uuid"
)

// Type is the closed set of envelope message types.
type Type string

const (
	TypeAgentRegister  Type = "agent_register"
	TypeAgentExecute   Type = "agent_execute"
	TypeAgentResponse  Type = "agent_response"
	TypeContextUpdate  Type = "context_update"
	TypeError          Type = "error"
	TypeHealthCheck    Type = "health_check"
	TypeHealthResponse Type = "health_response"
)

// Envelope is the wire shape for every hop. Payload is kept as a
// json.RawMessage-compatible map at the wire boundary and decoded into
// one of the typed Payload variants below by the caller, keeping
// dispatch on Type rather than on ad-hoc payload keys.
type Envelope struct {
	MessageID    string                 `json:"message_id"`
	Timestamp    time.Time              `json:"timestamp"`
	SourceAgent  string                 `json:"source_agent"`
	TargetAgent  string                 `json:"target_agent"`
	SessionID    string                 `json:"session_id,omitempty"`
	MessageType  Type                   `json:"message_type"`
	Payload      map[string]interface{} `json:"payload"`
}

// New builds an envelope with a fresh message_id and the current
// timestamp. Envelopes are neither persisted nor replayed (§3.2); only
// the response is acted on.
func New(source, target string, sessionID string, msgType Type, payload map[string]interface{}) Envelope {
	return Envelope{
		MessageID:   uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		SourceAgent: source,
		TargetAgent: target,
		SessionID:   sessionID,
		MessageType: msgType,
		Payload:     payload,
	}
}

// ExecutePayload is the payload shape for TypeAgentExecute.
type ExecutePayload struct {
	Task       string                 `json:"task"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// ResponseStatus is the closed status set an agent_response carries.
type ResponseStatus string

const (
	ResponseSuccess ResponseStatus = "success"
	ResponseFailed  ResponseStatus = "failed"
)

// ResponsePayload is the payload shape for TypeAgentResponse.
type ResponsePayload struct {
	Status ResponseStatus         `json:"status"`
	Result map[string]interface{} `json:"result,omitempty"`
	Error  *ErrorDetail           `json:"error,omitempty"`
}

// ErrorDetail is the payload shape for TypeError and for
// ResponsePayload.Error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RegisterPayload is the payload shape for TypeAgentRegister.
type RegisterPayload struct {
	AgentName    string   `json:"agent_name"`
	AgentType    string   `json:"agent_type"`
	Capabilities []string `json:"capabilities"`
	BaseURL      string   `json:"base_url"`
}

// HealthResponsePayload is the payload shape for TypeHealthResponse.
type HealthResponsePayload struct {
	Status    string `json:"status"`
	AgentName string `json:"agent_name"`
	AgentType string `json:"agent_type"`
}

// DecodeInto round-trips e.Payload through JSON into dst, used by
// handlers that know which variant to expect from MessageType.
func DecodeInto(payload map[string]interface{}, dst interface{}) error {
	return decodeViaJSON(payload, dst)
}

// EncodeFrom round-trips src into a payload map, the mirror of
// DecodeInto, used when constructing outbound envelopes from a typed
// payload variant.
func EncodeFrom(src interface{}) (map[string]interface{}, error) {
	return encodeViaJSON(src)
}
