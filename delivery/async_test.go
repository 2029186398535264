package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/opd-ai/deliverycore/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResendAsyncCompletesOnDispatcher(t *testing.T) {
	d := notify.NewDispatcher()
	defer d.Close()

	msg := &Message{ID: 1, Group: true, Failures: Failures{Network: []NetworkFailure{{RecipientID: testAlice}}}}
	store := newMemoryStore(msg)
	r := NewResolver(store, newMemoryDirectory(), &mockSender{}, WithDispatcher(d))

	target := testAlice
	done := make(chan error, 1)
	r.ResendAsync(context.Background(), 1, &target, func(err error) { done <- err })
	target = testBob

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(testAsyncWait):
		t.Fatal("resend completion not delivered")
	}
	assert.Empty(t, store.get(1).Failures.Network, "the target is captured at call time")
}

func TestResolveMismatchAsyncReportsStale(t *testing.T) {
	r := NewResolver(newMemoryStore(&Message{ID: 2}), newMemoryDirectory(), &mockSender{})

	done := make(chan error, 1)
	r.ResolveMismatchAsync(context.Background(), 2, testAlice, testNewKey, func(err error) { done <- err })

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStaleMismatch)
	case <-time.After(testAsyncWait):
		t.Fatal("mismatch completion not delivered")
	}
}

func TestAcknowledgeUnregisteredAsync(t *testing.T) {
	d := notify.NewDispatcher()
	defer d.Close()

	m := &Message{
		ID: 3, ThreadID: testThread, Group: true, Status: StatusPending,
		Failures: Failures{Unregistered: []UnregisteredUser{{RecipientID: testBob}}},
	}
	r := NewResolver(newMemoryStore(m), newMemoryDirectory(), &mockSender{}, WithDispatcher(d))

	type outcome struct {
		result SweepResult
		err    error
	}
	done := make(chan outcome, 1)
	r.AcknowledgeUnregisteredAsync(context.Background(), 3, testBob, func(res SweepResult, err error) {
		done <- outcome{res, err}
	})

	select {
	case o := <-done:
		require.NoError(t, o.err)
		assert.Equal(t, []MessageID{3}, o.result.Released)
	case <-time.After(testAsyncWait):
		t.Fatal("acknowledgement completion not delivered")
	}
}

func TestAsyncCompletionAfterDispatcherClosed(t *testing.T) {
	d := notify.NewDispatcher()
	d.Close()

	r := NewResolver(newMemoryStore(&Message{ID: 4}), newMemoryDirectory(), &mockSender{}, WithDispatcher(d))

	done := make(chan error, 1)
	r.ResendAsync(context.Background(), 4, nil, func(err error) { done <- err })

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(testAsyncWait):
		t.Fatal("completion dropped after dispatcher close")
	}
}
