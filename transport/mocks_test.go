package transport

import (
	"context"
	"encoding/hex"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/opd-ai/deliverycore/crypto"
	"github.com/stretchr/testify/require"
)

// recordingHandler records requests and optionally rejects them.
type recordingHandler struct {
	mu       sync.Mutex
	requests []Request
	peers    [][32]byte
	reject   error
}

func (h *recordingHandler) HandleRelayRequest(_ context.Context, peer [32]byte, req Request) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests = append(h.requests, req)
	h.peers = append(h.peers, peer)
	return h.reject
}

func (h *recordingHandler) received() []Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Request(nil), h.requests...)
}

// pipeDialer serves each dial with a net.Pipe handled by server.
type pipeDialer struct {
	server *RelayServer
	mu     sync.Mutex
	dials  int
}

func (d *pipeDialer) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()

	client, server := net.Pipe()
	go func() { _ = d.server.ServeConn(ctx, server) }()
	return client, nil
}

// failingDialer refuses every dial.
type failingDialer struct{}

var errDialRefused = errors.New("connection refused")

func (failingDialer) DialContext(context.Context, string, string) (net.Conn, error) {
	return nil, errDialRefused
}

func newKeys(t *testing.T) *crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return kp
}

func hexKey(k [32]byte) string {
	return hex.EncodeToString(k[:])
}
