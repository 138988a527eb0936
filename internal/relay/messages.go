package relay

import (
	"encoding/json"
	"fmt"
)

type messageType string

// Client -> server message types.
const (
	messageTypeLogin     messageType = "login"
	messageTypeCall      messageType = "call"
	messageTypeAccept    messageType = "accept"
	messageTypeReject    messageType = "reject"
	messageTypeOffer     messageType = "offer"
	messageTypeAnswer    messageType = "answer"
	messageTypeCandidate messageType = "candidate"
	messageTypeHangup    messageType = "hangup"
	messageTypeHeartbeat messageType = "heartbeat"
)

// Server -> client message types.
const (
	messageTypeLoginSuccess messageType = "login-success"
	messageTypeUsers        messageType = "users"
	messageTypeIncomingCall messageType = "incoming-call"
	messageTypeCallAccepted messageType = "call-accepted"
	messageTypeCallRejected messageType = "call-rejected"
	messageTypeError        messageType = "error"
	messageTypePong         messageType = "pong"
)

// envelope is the canonical inbound wire shape: a type tag plus a payload
// object. Unknown extra fields are tolerated; a missing type is not.
type envelope struct {
	Type    messageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func parseEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, err
	}
	if env.Type == "" {
		return envelope{}, fmt.Errorf("message missing type")
	}
	return env, nil
}

type loginPayload struct {
	Username string `json:"username"`
}

type callPayload struct {
	Target string `json:"target"`
	From   string `json:"from"`
}

// replyPayload is shared by accept and reject: From names the original
// caller, To the callee answering.
type replyPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// forwardPayload covers offer, answer, candidate and hangup. The offer,
// answer and candidate fields are opaque to the relay and forwarded verbatim.
type forwardPayload struct {
	Target    string          `json:"target"`
	From      string          `json:"from"`
	Offer     json.RawMessage `json:"offer"`
	Answer    json.RawMessage `json:"answer"`
	Candidate json.RawMessage `json:"candidate"`
}

// Outbound messages are flat objects, matching what browser clients consume.

type loginSuccessMessage struct {
	Type     messageType `json:"type"`
	Username string      `json:"username"`
}

type usersMessage struct {
	Type  messageType `json:"type"`
	Users []string    `json:"users"`
}

type incomingCallMessage struct {
	Type messageType `json:"type"`
	From string      `json:"from"`
}

type callReplyMessage struct {
	Type messageType `json:"type"`
	From string      `json:"from"`
}

type sdpMessage struct {
	Type  messageType     `json:"type"`
	Offer json.RawMessage `json:"offer,omitempty"`
	// Answer is set instead of Offer on answer messages.
	Answer json.RawMessage `json:"answer,omitempty"`
	From   string          `json:"from"`
}

type candidateMessage struct {
	Type      messageType     `json:"type"`
	Candidate json.RawMessage `json:"candidate"`
	From      string          `json:"from"`
}

type hangupMessage struct {
	Type messageType `json:"type"`
	From string      `json:"from"`
}

type errorMessage struct {
	Type    messageType `json:"type"`
	Message string      `json:"message"`
}

type pongMessage struct {
	Type messageType `json:"type"`
}
