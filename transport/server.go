package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/deliverycore/crypto"
	"github.com/opd-ai/deliverycore/noise"
	"github.com/sirupsen/logrus"
)

// RelayHandler executes relay requests. peer is the client's static key as
// authenticated by the handshake. A returned error is sent back to the
// client as a rejection.
type RelayHandler interface {
	HandleRelayRequest(ctx context.Context, peer [32]byte, req Request) error
}

// RelayHandlerFunc adapts a function to RelayHandler.
type RelayHandlerFunc func(ctx context.Context, peer [32]byte, req Request) error

// HandleRelayRequest calls f.
func (f RelayHandlerFunc) HandleRelayRequest(ctx context.Context, peer [32]byte, req Request) error {
	return f(ctx, peer, req)
}

// RelayServer accepts relay requests.
type RelayServer struct {
	keys    *crypto.KeyPair
	handler RelayHandler
	timeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	closed   bool
}

// NewRelayServer creates a server authenticating with keys.
func NewRelayServer(keys *crypto.KeyPair, handler RelayHandler) *RelayServer {
	return &RelayServer{
		keys:    keys,
		handler: handler,
		timeout: DefaultTimeout,
	}
}

// Serve accepts connections on l until ctx is done or Close is called.
func (rs *RelayServer) Serve(ctx context.Context, l net.Listener) error {
	rs.mu.Lock()
	if rs.closed {
		rs.mu.Unlock()
		return net.ErrClosed
	}
	rs.listener = l
	rs.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{
		"function": "RelayServer.Serve",
		"address":  l.Addr().String(),
	})
	log.Info("Relay server listening")

	stop := context.AfterFunc(ctx, func() { _ = rs.Close() })
	defer stop()

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				rs.wg.Wait()
				log.Info("Relay server stopped")
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		rs.wg.Add(1)
		go func() {
			defer rs.wg.Done()
			if err := rs.ServeConn(ctx, conn); err != nil {
				log.WithFields(logrus.Fields{
					"remote": conn.RemoteAddr().String(),
					"error":  err.Error(),
				}).Warn("Relay connection failed")
			}
		}()
	}
}

// ServeConn handles a single request on conn and closes it.
func (rs *RelayServer) ServeConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(rs.timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	msg, err := readFrame(conn)
	if err != nil {
		return err
	}

	hs, err := noise.NewIKHandshake(rs.keys.Private[:], nil, noise.Responder)
	if err != nil {
		return fmt.Errorf("handshake setup failed: %w", err)
	}
	plain, _, err := hs.ReadMessage(msg)
	if err != nil {
		return fmt.Errorf("handshake read failed: %w", err)
	}

	remote, err := hs.GetRemoteStaticKey()
	if err != nil {
		return err
	}
	var peer [32]byte
	copy(peer[:], remote)

	resp := Response{OK: true}
	req, err := decodeRequest(plain)
	resp.RequestID = req.RequestID
	if err == nil {
		err = rs.handler.HandleRelayRequest(ctx, peer, req)
	}
	if err != nil {
		resp.OK = false
		resp.Error = err.Error()
	}

	logrus.WithFields(logrus.Fields{
		"function":   "RelayServer.ServeConn",
		"op":         req.Op,
		"request_id": req.RequestID.String(),
		"ok":         resp.OK,
	}).WithFields(crypto.SecureFieldHash(peer[:], "peer")).Info("Relay request handled")

	out, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	reply, _, err := hs.WriteMessage(out)
	if err != nil {
		return fmt.Errorf("handshake write failed: %w", err)
	}
	return writeFrame(conn, reply)
}

// Close stops accepting connections. In-flight requests finish.
func (rs *RelayServer) Close() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.closed {
		return nil
	}
	rs.closed = true
	if rs.listener != nil {
		return rs.listener.Close()
	}
	return nil
}
