package delivery

import "time"

const (
	testThread    ThreadID    = 10
	testAlice     RecipientID = 1
	testBob       RecipientID = 2
	testCarol     RecipientID = 3
	testAsyncWait             = 2 * time.Second
)

var (
	testOldKey = []byte("old-identity-key-0123456789abcdef")
	testNewKey = []byte("new-identity-key-0123456789abcdef")
)
