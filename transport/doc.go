// Package transport implements the session/transport collaborator used by
// the delivery resolver: a relay client that asks a relay to resend
// messages or record a trusted identity key.
//
// Each request is one TCP connection carrying one Noise IK round trip. The
// JSON request rides in the initiator's handshake message and the relay's
// verdict in the responder's reply, so a request costs a single round trip
// and is authenticated in both directions. Frames are a 2-byte big-endian
// length followed by the Noise message.
//
//	sender := transport.NewRelaySender(clientKeys, []transport.RelayServerInfo{
//	    {Address: "relay.example.org:33445", PublicKey: relayPub},
//	})
//	resolver := delivery.NewResolver(store, directory, sender)
//
// Dial, handshake and I/O failures are wrapped in
// delivery.ErrTransportUnavailable. A relay that answers with an error
// yields ErrRelayRejected and is not retried on another relay.
//
// RelayServer is the other end: it accepts connections, completes the
// handshake and passes each decoded Request to a RelayHandler.
package transport
