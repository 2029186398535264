package delivery

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageLocksTryLock(t *testing.T) {
	l := newMessageLocks()

	unlock := l.lock(1)
	_, ok := l.tryLock(1)
	assert.False(t, ok, "held lock must not be acquired")

	other, ok := l.tryLock(2)
	require.True(t, ok, "locks are per message")
	other()

	unlock()
	again, ok := l.tryLock(1)
	require.True(t, ok)
	again()

	assert.Equal(t, 0, l.size())
}

func TestMessageLocksLockUnlessResending(t *testing.T) {
	l := newMessageLocks()

	unlock := l.lockResend(1)
	_, ok := l.lockUnlessResending(1)
	assert.False(t, ok, "a resend holder is skipped")
	unlock()

	held := l.lock(2)
	acquired := make(chan func(), 1)
	go func() {
		u, ok := l.lockUnlessResending(2)
		assert.True(t, ok)
		acquired <- u
	}()
	held()
	(<-acquired)()

	assert.Equal(t, 0, l.size())
}

func TestMessageLocksMutualExclusion(t *testing.T) {
	l := newMessageLocks()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.lock(7)
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, l.size())
}
