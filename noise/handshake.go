package noise

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/flynn/noise"
	"github.com/opd-ai/deliverycore/crypto"
)

var (
	// ErrHandshakeNotComplete indicates handshake is still in progress
	ErrHandshakeNotComplete = errors.New("handshake not complete")
	// ErrInvalidMessage indicates received message is invalid for current state
	ErrInvalidMessage = errors.New("invalid message for current handshake state")
	// ErrHandshakeComplete indicates handshake is already complete
	ErrHandshakeComplete = errors.New("handshake already complete")
)

// HandshakeRole defines whether we're initiating or responding to handshake
type HandshakeRole uint8

const (
	// Initiator starts the handshake (knows peer's static key)
	Initiator HandshakeRole = iota
	// Responder responds to handshake initiation
	Responder
)

// String implements fmt.Stringer.
func (r HandshakeRole) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// IKHandshake implements the Noise IK pattern.
// IK provides mutual authentication and forward secrecy, suitable for
// scenarios where the initiator knows the responder's static public key.
type IKHandshake struct {
	role       HandshakeRole
	state      *noise.HandshakeState
	localPub   []byte
	sendCipher *noise.CipherState
	recvCipher *noise.CipherState
	// step counts processed handshake messages (0, 1 or 2).
	step     int
	complete bool
}

// NewIKHandshake creates a new IK pattern handshake.
// staticPrivKey is our long-term private key (32 bytes).
// peerPubKey is peer's long-term public key (32 bytes, nil for responder).
func NewIKHandshake(staticPrivKey, peerPubKey []byte, role HandshakeRole) (*IKHandshake, error) {
	if len(staticPrivKey) != 32 {
		return nil, fmt.Errorf("static private key must be 32 bytes, got %d", len(staticPrivKey))
	}

	if role == Initiator && len(peerPubKey) != 32 {
		return nil, fmt.Errorf("initiator requires peer public key (32 bytes), got %d", len(peerPubKey))
	}

	var privateKeyArray [32]byte
	copy(privateKeyArray[:], staticPrivKey)
	defer crypto.ZeroBytes(privateKeyArray[:])

	keyPair, err := crypto.FromSecretKey(privateKeyArray)
	if err != nil {
		return nil, fmt.Errorf("failed to derive keypair: %w", err)
	}
	defer func() { _ = crypto.WipeKeyPair(keyPair) }()

	staticKey := noise.DHKey{
		Private: make([]byte, 32),
		Public:  make([]byte, 32),
	}
	copy(staticKey.Private, keyPair.Private[:])
	copy(staticKey.Public, keyPair.Public[:])

	config := noise.Config{
		CipherSuite:   noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256),
		Random:        rand.Reader,
		Pattern:       noise.HandshakeIK,
		Initiator:     role == Initiator,
		StaticKeypair: staticKey,
	}

	// Set peer's static key for initiator (required for IK pattern)
	if role == Initiator {
		config.PeerStatic = append([]byte(nil), peerPubKey...)
	}

	state, err := noise.NewHandshakeState(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	return &IKHandshake{
		role:     role,
		state:    state,
		localPub: append([]byte(nil), staticKey.Public...),
	}, nil
}

// WriteMessage produces our next handshake message carrying payload. The
// initiator writes first; the responder writes after ReadMessage. Returns
// the message, whether the handshake is now complete, and any error.
func (ik *IKHandshake) WriteMessage(payload []byte) ([]byte, bool, error) {
	if ik.complete {
		return nil, false, ErrHandshakeComplete
	}
	if !ik.writesNext() {
		return nil, false, fmt.Errorf("%w: %s cannot write at step %d", ErrInvalidMessage, ik.role, ik.step)
	}

	message, cs1, cs2, err := ik.state.WriteMessage(nil, payload)
	if err != nil {
		return nil, false, fmt.Errorf("%s write failed: %w", ik.role, err)
	}
	ik.advance(cs1, cs2)
	return message, ik.complete, nil
}

// ReadMessage consumes the peer's handshake message and returns its
// payload and whether the handshake is now complete.
func (ik *IKHandshake) ReadMessage(message []byte) ([]byte, bool, error) {
	if ik.complete {
		return nil, false, ErrHandshakeComplete
	}
	if ik.writesNext() {
		return nil, false, fmt.Errorf("%w: %s cannot read at step %d", ErrInvalidMessage, ik.role, ik.step)
	}

	payload, cs1, cs2, err := ik.state.ReadMessage(nil, message)
	if err != nil {
		return nil, false, fmt.Errorf("%s read failed: %w", ik.role, err)
	}
	ik.advance(cs1, cs2)
	return payload, ik.complete, nil
}

// writesNext reports whether the next message is ours to write.
func (ik *IKHandshake) writesNext() bool {
	if ik.role == Initiator {
		return ik.step == 0
	}
	return ik.step == 1
}

// advance records a processed message. flynn/noise returns the cipher pair
// in initiator order (initiator->responder, responder->initiator) once the
// final message is processed.
func (ik *IKHandshake) advance(cs1, cs2 *noise.CipherState) {
	ik.step++
	if cs1 == nil || cs2 == nil {
		return
	}
	if ik.role == Initiator {
		ik.sendCipher, ik.recvCipher = cs1, cs2
	} else {
		ik.sendCipher, ik.recvCipher = cs2, cs1
	}
	ik.complete = true
}

// IsComplete returns true if handshake is finished and cipher states are available.
func (ik *IKHandshake) IsComplete() bool {
	return ik.complete
}

// GetCipherStates returns the send and receive cipher states after successful handshake.
func (ik *IKHandshake) GetCipherStates() (*noise.CipherState, *noise.CipherState, error) {
	if !ik.complete {
		return nil, nil, ErrHandshakeNotComplete
	}
	return ik.sendCipher, ik.recvCipher, nil
}

// GetRemoteStaticKey returns the peer's static public key. The responder
// learns it from the first message.
func (ik *IKHandshake) GetRemoteStaticKey() ([]byte, error) {
	remoteKey := ik.state.PeerStatic()
	if len(remoteKey) == 0 {
		return nil, ErrHandshakeNotComplete
	}
	return append([]byte(nil), remoteKey...), nil
}

// GetLocalStaticKey returns our static public key.
func (ik *IKHandshake) GetLocalStaticKey() []byte {
	return append([]byte(nil), ik.localPub...)
}
