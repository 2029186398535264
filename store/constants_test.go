package store

import (
	"time"

	"github.com/opd-ai/deliverycore/delivery"
)

const (
	testThread delivery.ThreadID    = 5
	testAlice  delivery.RecipientID = 1
	testBob    delivery.RecipientID = 2
	testWait                        = 3 * time.Second
)

var testKey = []byte("identity-key-bytes-for-store-test")
