package transport

import "time"

const (
	testTimeout = 2 * time.Second
	testMessage = 77
	testPeer    = 4
)
