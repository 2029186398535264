package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/deliverycore/crypto"
	"github.com/opd-ai/deliverycore/delivery"
	"github.com/opd-ai/deliverycore/noise"
	"github.com/sirupsen/logrus"
)

// ErrRelayRejected indicates the relay understood the request and refused it.
var ErrRelayRejected = errors.New("relay rejected request")

// ErrNoRelayServers indicates the sender has no relay configured.
var ErrNoRelayServers = errors.New("no relay servers available")

// DefaultTimeout bounds dialing plus the round trip of one request.
const DefaultTimeout = 10 * time.Second

// RelayServerInfo contains information about a relay server.
type RelayServerInfo struct {
	Address   string
	PublicKey [32]byte
	Priority  int
}

// Dialer opens connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// RelaySender implements delivery.MessageSender over relay servers.
type RelaySender struct {
	keys *crypto.KeyPair

	mu      sync.RWMutex
	servers []RelayServerInfo
	dialer  Dialer
	timeout time.Duration
}

var _ delivery.MessageSender = (*RelaySender)(nil)

// NewRelaySender creates a sender authenticating with keys.
func NewRelaySender(keys *crypto.KeyPair, servers []RelayServerInfo) *RelaySender {
	s := &RelaySender{
		keys:    keys,
		servers: append([]RelayServerInfo(nil), servers...),
		dialer:  &net.Dialer{},
		timeout: DefaultTimeout,
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewRelaySender",
		"server_count": len(servers),
	}).Info("Relay sender created")

	return s
}

// SetDialer replaces the dialer, for tests and proxies.
func (s *RelaySender) SetDialer(d Dialer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialer = d
}

// SetTimeout sets the per-request timeout. Non-positive values are ignored.
func (s *RelaySender) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = timeout
}

// AddRelayServer adds a relay server to the list of available servers.
func (s *RelaySender) AddRelayServer(server RelayServerInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "AddRelayServer",
		"address":  server.Address,
		"priority": server.Priority,
	}).Info("Adding relay server")

	s.servers = append(s.servers, server)
}

// Resend asks the relay to resend message id to all its recipients.
func (s *RelaySender) Resend(ctx context.Context, id delivery.MessageID) error {
	return s.send(ctx, Request{Op: OpResend, MessageID: id})
}

// ResendToRecipient asks the relay to resend group message id to r only.
func (s *RelaySender) ResendToRecipient(ctx context.Context, id delivery.MessageID, r delivery.RecipientID) error {
	return s.send(ctx, Request{Op: OpResendToRecipient, MessageID: id, RecipientID: r})
}

// TrustIdentity records key as r's trusted identity.
func (s *RelaySender) TrustIdentity(ctx context.Context, r delivery.RecipientID, key []byte) error {
	return s.send(ctx, Request{Op: OpTrustIdentity, RecipientID: r, IdentityKey: append([]byte(nil), key...)})
}

// send tries each relay by priority until one answers.
func (s *RelaySender) send(ctx context.Context, req Request) error {
	req.RequestID = uuid.New()
	if err := req.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	fields := logrus.Fields{
		"function":   "RelaySender.send",
		"op":         req.Op,
		"request_id": req.RequestID.String(),
		"message_id": req.MessageID,
	}

	servers, dialer, timeout := s.snapshot()
	if len(servers) == 0 {
		return fmt.Errorf("%w: %w", delivery.ErrTransportUnavailable, ErrNoRelayServers)
	}

	var lastErr error
	for _, server := range servers {
		resp, err := s.roundTrip(ctx, dialer, timeout, server, payload)
		if err != nil {
			lastErr = err
			logrus.WithFields(fields).WithFields(logrus.Fields{
				"address": server.Address,
				"error":   err.Error(),
			}).Warn("Relay request failed")
			continue
		}

		if resp.RequestID != req.RequestID {
			lastErr = fmt.Errorf("response for request %s", resp.RequestID)
			continue
		}
		if !resp.OK {
			logrus.WithFields(fields).WithFields(logrus.Fields{
				"address": server.Address,
				"reason":  resp.Error,
			}).Warn("Relay rejected request")
			return fmt.Errorf("%w: %s", ErrRelayRejected, resp.Error)
		}

		logrus.WithFields(fields).WithField("address", server.Address).Debug("Relay accepted request")
		return nil
	}

	return fmt.Errorf("%w: all relays failed: %w", delivery.ErrTransportUnavailable, lastErr)
}

func (s *RelaySender) snapshot() ([]RelayServerInfo, Dialer, time.Duration) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	servers := append([]RelayServerInfo(nil), s.servers...)
	sort.SliceStable(servers, func(i, j int) bool { return servers[i].Priority < servers[j].Priority })
	return servers, s.dialer, s.timeout
}

// roundTrip performs one Noise IK exchange with server.
func (s *RelaySender) roundTrip(ctx context.Context, dialer Dialer, timeout time.Duration, server RelayServerInfo, payload []byte) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", server.Address)
	if err != nil {
		return Response{}, fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return Response{}, fmt.Errorf("set deadline: %w", err)
		}
	}

	// Unblock reads if the caller's context ends early.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	hs, err := noise.NewIKHandshake(s.keys.Private[:], server.PublicKey[:], noise.Initiator)
	if err != nil {
		return Response{}, fmt.Errorf("handshake setup failed: %w", err)
	}

	msg, _, err := hs.WriteMessage(payload)
	if err != nil {
		return Response{}, fmt.Errorf("handshake write failed: %w", err)
	}
	if err := writeFrame(conn, msg); err != nil {
		return Response{}, err
	}

	reply, err := readFrame(conn)
	if err != nil {
		return Response{}, err
	}
	plain, complete, err := hs.ReadMessage(reply)
	if err != nil {
		return Response{}, fmt.Errorf("handshake read failed: %w", err)
	}
	if !complete {
		return Response{}, errors.New("handshake incomplete after reply")
	}

	return decodeResponse(plain)
}
