package transport

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/opd-ai/deliverycore/delivery"
)

// Op names a relay operation.
type Op string

const (
	// OpResend resends a whole message.
	OpResend Op = "resend"
	// OpResendToRecipient resends a group message to one member.
	OpResendToRecipient Op = "resend_to_recipient"
	// OpTrustIdentity records a newly trusted identity key.
	OpTrustIdentity Op = "trust_identity"
)

// Request is the payload of the initiator's handshake message.
type Request struct {
	RequestID   uuid.UUID            `json:"request_id"`
	Op          Op                   `json:"op"`
	MessageID   delivery.MessageID   `json:"message_id,omitempty"`
	RecipientID delivery.RecipientID `json:"recipient_id,omitempty"`
	IdentityKey []byte               `json:"identity_key,omitempty"`
}

// Validate checks that the fields required by Op are present.
func (r Request) Validate() error {
	switch r.Op {
	case OpResend:
		return nil
	case OpResendToRecipient:
		if r.RecipientID == 0 {
			return fmt.Errorf("%s requires recipient_id", r.Op)
		}
		return nil
	case OpTrustIdentity:
		if r.RecipientID == 0 || len(r.IdentityKey) == 0 {
			return fmt.Errorf("%s requires recipient_id and identity_key", r.Op)
		}
		return nil
	default:
		return fmt.Errorf("unknown op %q", r.Op)
	}
}

// Response is the payload of the responder's handshake message.
type Response struct {
	RequestID uuid.UUID `json:"request_id"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
}

func decodeRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	return req, req.Validate()
}

func decodeResponse(data []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}
