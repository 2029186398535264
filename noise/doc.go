// Package noise wraps the flynn/noise IK handshake used by the relay
// transport.
//
// IK fits the relay because the client always knows the relay's static
// public key from configuration, while the relay learns the client's
// static key from the first message. The suite is Curve25519,
// ChaCha20-Poly1305 and SHA-256.
//
// A relay exchange is a single round trip, with application payloads
// riding inside the two handshake messages:
//
//	Initiator                              Responder
//	─────────                              ─────────
//	-> e, es, s, ss  [request]
//	                                       <- e, ee, se  [response]
//
// Initiator:
//
//	ik, err := noise.NewIKHandshake(clientPriv, relayPub, noise.Initiator)
//	msg, _, err := ik.WriteMessage(request)
//	// send msg, receive reply
//	response, complete, err := ik.ReadMessage(reply)
//
// Responder:
//
//	ik, err := noise.NewIKHandshake(relayPriv, nil, noise.Responder)
//	request, _, err := ik.ReadMessage(msg)
//	clientKey, _ := ik.GetRemoteStaticKey()
//	reply, complete, err := ik.WriteMessage(response)
//
// Once complete, GetCipherStates returns the transport ciphers for any
// further traffic.
package noise
