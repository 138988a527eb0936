// Package relay implements the signaling core: a presence registry keyed by
// display name and a dispatch switch that routes call-control messages to the
// connection of the user they name. The relay is stateless with respect to
// calls; it only knows who is online and forwards each message to its target.
package relay

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/voicelink/signaling-relay/internal/metrics"
)

// Conn is the transport-owned connection handle the relay routes messages to.
// The relay never owns a Conn; it only sends to it, checks whether it is
// still open, and force-closes it on login takeover.
//
// Implementations must be comparable (pointer types are) since the relay
// keys per-connection state on the handle itself.
type Conn interface {
	// Send writes one text frame. Best effort; the relay drops on error.
	Send(data []byte) error
	Close() error
	Open() bool
}

type session struct {
	username string
	conn     Conn
}

// Relay owns the presence registry and processes the three transport events:
// connection opened, message received, connection closed. All registry
// mutation happens under one mutex, so no two events interleave.
type Relay struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*session
	order    []string        // usernames in first-login order
	bound    map[Conn]string // per-connection bound username; "" before login
}

func New(log *slog.Logger, m *metrics.Metrics) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		log:      log,
		metrics:  m,
		sessions: make(map[string]*session),
		bound:    make(map[Conn]string),
	}
}

// HandleOpen registers per-connection state. Nothing is observable to other
// sessions until the connection logs in.
func (r *Relay) HandleOpen(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bound[conn] = ""
}

// HandleClose removes the connection's registry binding, if it still owns
// one, and broadcasts the updated user list. A connection evicted by a login
// takeover no longer owns a binding, so its close event is a no-op.
func (r *Relay) HandleClose(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	username, known := r.bound[conn]
	delete(r.bound, conn)
	if !known || username == "" {
		return
	}

	if sess, ok := r.sessions[username]; !ok || sess.conn != conn {
		return
	}

	r.unregisterLocked(username)
	r.metrics.Inc(metrics.Logout)
	r.log.Info("logout", "username", username)
	r.broadcastUsersLocked()
}

// HandleMessage parses one inbound frame and dispatches it. Malformed input
// is discarded silently; it must never crash the relay or affect other
// sessions.
func (r *Relay) HandleMessage(conn Conn, data []byte) {
	env, err := parseEnvelope(data)
	if err != nil {
		r.metrics.Inc(metrics.MessageMalformed)
		r.log.Debug("discarding malformed message", "err", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch env.Type {
	case messageTypeLogin:
		r.handleLoginLocked(conn, env.Payload)
	case messageTypeCall:
		r.handleCallLocked(conn, env.Payload)
	case messageTypeAccept:
		r.handleReplyLocked(env.Payload, messageTypeCallAccepted)
	case messageTypeReject:
		r.handleReplyLocked(env.Payload, messageTypeCallRejected)
	case messageTypeOffer, messageTypeAnswer, messageTypeCandidate, messageTypeHangup:
		r.handleForwardLocked(env.Type, env.Payload)
	case messageTypeHeartbeat:
		r.send(conn, pongMessage{Type: messageTypePong})
	default:
		r.metrics.Inc(metrics.MessageUnknownType)
		r.log.Debug("ignoring unknown message type", "type", string(env.Type))
	}
}

// Usernames returns the current registry key set in first-login order.
func (r *Relay) Usernames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func (r *Relay) handleLoginLocked(conn Conn, payload json.RawMessage) {
	var p loginPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.metrics.Inc(metrics.MessageMalformed)
		return
	}
	username := strings.TrimSpace(p.Username)
	if username == "" {
		return
	}

	// New login always wins: an existing session under this name on another
	// connection is evicted and its connection force-closed. Its binding is
	// removed first so the close event the transport reports back is
	// recognized as already handled.
	if old, ok := r.sessions[username]; ok && old.conn != conn {
		delete(r.bound, old.conn)
		if old.conn.Open() {
			_ = old.conn.Close()
		}
		r.metrics.Inc(metrics.LoginTakeover)
		r.log.Info("login takeover", "username", username)
	}

	// A connection re-logging-in under a new name gives up its old one.
	if prev := r.bound[conn]; prev != "" && prev != username {
		r.unregisterLocked(prev)
	}

	if _, ok := r.sessions[username]; !ok {
		r.order = append(r.order, username)
	}
	r.sessions[username] = &session{username: username, conn: conn}
	r.bound[conn] = username

	r.metrics.Inc(metrics.Login)
	r.log.Info("login", "username", username)

	r.send(conn, loginSuccessMessage{Type: messageTypeLoginSuccess, Username: username})
	r.broadcastUsersLocked()
}

func (r *Relay) handleCallLocked(conn Conn, payload json.RawMessage) {
	var p callPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.metrics.Inc(metrics.MessageMalformed)
		return
	}

	callee, ok := r.sessions[p.Target]
	if !ok {
		// The one target-miss case that reports back to the sender.
		r.metrics.Inc(metrics.CallTargetUnavailable)
		r.send(conn, errorMessage{Type: messageTypeError, Message: "User not available"})
		return
	}
	r.send(callee.conn, incomingCallMessage{Type: messageTypeIncomingCall, From: p.From})
}

// handleReplyLocked routes accept/reject back to the original caller, who is
// named by the payload's from field.
func (r *Relay) handleReplyLocked(payload json.RawMessage, reply messageType) {
	var p replyPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.metrics.Inc(metrics.MessageMalformed)
		return
	}

	caller, ok := r.sessions[p.From]
	if !ok {
		r.metrics.Inc(metrics.ForwardDropped)
		return
	}
	r.send(caller.conn, callReplyMessage{Type: reply, From: p.To})
}

// handleForwardLocked relays offer/answer/candidate/hangup to the target.
// A missing target is a silent no-op: it usually means the other party
// already hung up or disconnected.
func (r *Relay) handleForwardLocked(kind messageType, payload json.RawMessage) {
	var p forwardPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.metrics.Inc(metrics.MessageMalformed)
		return
	}

	target, ok := r.sessions[p.Target]
	if !ok {
		r.metrics.Inc(metrics.ForwardDropped)
		return
	}

	switch kind {
	case messageTypeOffer:
		r.send(target.conn, sdpMessage{Type: kind, Offer: p.Offer, From: p.From})
	case messageTypeAnswer:
		r.send(target.conn, sdpMessage{Type: kind, Answer: p.Answer, From: p.From})
	case messageTypeCandidate:
		r.send(target.conn, candidateMessage{Type: kind, Candidate: p.Candidate, From: p.From})
	case messageTypeHangup:
		r.send(target.conn, hangupMessage{Type: kind, From: p.From})
	}
}

func (r *Relay) unregisterLocked(username string) {
	delete(r.sessions, username)
	for i, u := range r.order {
		if u == username {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Relay) broadcastUsersLocked() {
	users := append([]string(nil), r.order...)
	data, err := json.Marshal(usersMessage{Type: messageTypeUsers, Users: users})
	if err != nil {
		return
	}

	r.metrics.Inc(metrics.UsersBroadcast)
	for _, u := range r.order {
		r.sendRaw(r.sessions[u].conn, data)
	}
}

func (r *Relay) send(conn Conn, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	r.sendRaw(conn, data)
}

// sendRaw is fire and forget: sends to a connection that is no longer open
// are dropped, never queued or retried.
func (r *Relay) sendRaw(conn Conn, data []byte) {
	if conn == nil || !conn.Open() {
		r.metrics.Inc(metrics.SendFailed)
		return
	}
	if err := conn.Send(data); err != nil {
		r.metrics.Inc(metrics.SendFailed)
		r.log.Debug("send failed", "err", err)
	}
}
