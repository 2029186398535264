package delivery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectFailurePriority(t *testing.T) {
	mismatch := IdentityKeyMismatch{RecipientID: testAlice, IdentityKey: testNewKey}
	network := NetworkFailure{RecipientID: testAlice}
	unregistered := UnregisteredUser{RecipientID: testAlice}

	tests := []struct {
		name    string
		records []FailureRecord
		want    FailureKind
	}{
		{"none", nil, FailureNone},
		{"unregistered only", []FailureRecord{unregistered}, FailureUnregistered},
		{"network beats unregistered", []FailureRecord{unregistered, network}, FailureNetwork},
		{"mismatch beats network", []FailureRecord{network, mismatch}, FailureIdentityMismatch},
		{"mismatch beats all", []FailureRecord{unregistered, network, mismatch}, FailureIdentityMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectFailure(tt.records)
			if tt.want == FailureNone {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.want, got.Kind())
		})
	}
}

func TestClassify(t *testing.T) {
	seenNone := func(RecipientID) bool { return false }
	seenAll := func(RecipientID) bool { return true }

	tests := []struct {
		name       string
		msg        *Message
		seen       func(RecipientID) bool
		wantOK     bool
		wantKind   FailureKind
		wantAction Action
	}{
		{
			name:   "healthy message",
			msg:    &Message{ID: 1, Recipients: []RecipientID{testAlice}, Status: StatusSent},
			seen:   seenNone,
			wantOK: false,
		},
		{
			name: "mismatch and network for same recipient yields mismatch",
			msg: &Message{ID: 1, Group: true, Failures: Failures{
				Network:    []NetworkFailure{{RecipientID: testAlice}},
				Mismatches: []IdentityKeyMismatch{{RecipientID: testAlice, IdentityKey: testNewKey}},
			}},
			seen:       seenNone,
			wantOK:     true,
			wantKind:   FailureIdentityMismatch,
			wantAction: ActionAcceptIdentity,
		},
		{
			name: "network failure in group",
			msg: &Message{ID: 1, Group: true, Failures: Failures{
				Network: []NetworkFailure{{RecipientID: testAlice}},
			}},
			seen:       seenNone,
			wantOK:     true,
			wantKind:   FailureNetwork,
			wantAction: ActionResend,
		},
		{
			name:       "failed direct message without entry is resendable",
			msg:        &Message{ID: 1, Status: StatusFailed},
			seen:       seenNone,
			wantOK:     true,
			wantKind:   FailureNetwork,
			wantAction: ActionResend,
		},
		{
			name:   "failed group message without entry is healthy for member",
			msg:    &Message{ID: 1, Group: true, Status: StatusFailed},
			seen:   seenNone,
			wantOK: false,
		},
		{
			name: "network suppresses unregistered",
			msg: &Message{ID: 1, Group: true, Failures: Failures{
				Network:      []NetworkFailure{{RecipientID: testAlice}},
				Unregistered: []UnregisteredUser{{RecipientID: testAlice}},
			}},
			seen:       seenNone,
			wantOK:     true,
			wantKind:   FailureNetwork,
			wantAction: ActionResend,
		},
		{
			name: "unregistered not yet acknowledged",
			msg: &Message{ID: 1, Group: true, Failures: Failures{
				Unregistered: []UnregisteredUser{{RecipientID: testAlice}},
			}},
			seen:       seenNone,
			wantOK:     true,
			wantKind:   FailureUnregistered,
			wantAction: ActionAcknowledgeUnregistered,
		},
		{
			name: "unregistered acknowledged",
			msg: &Message{ID: 1, Group: true, Failures: Failures{
				Unregistered: []UnregisteredUser{{RecipientID: testAlice}},
			}},
			seen:       seenAll,
			wantOK:     true,
			wantKind:   FailureUnregistered,
			wantAction: ActionNone,
		},
		{
			name: "failure for another recipient",
			msg: &Message{ID: 1, Group: true, Failures: Failures{
				Network: []NetworkFailure{{RecipientID: testBob}},
			}},
			seen:   seenNone,
			wantOK: false,
		},
		{
			name:   "nil message",
			msg:    nil,
			seen:   seenNone,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view, ok := Classify(tt.msg, testAlice, tt.seen)
			assert.Equal(t, tt.wantOK, ok)
			if !ok {
				assert.Equal(t, FailureView{}, view)
				return
			}
			assert.Equal(t, tt.wantKind, view.Kind)
			assert.Equal(t, testAlice, view.Recipient)
			assert.Equal(t, tt.wantAction, view.Action())
			assert.Equal(t, tt.wantKind.Description(), view.Description())
		})
	}
}

func TestClassifyMismatchCopiesKey(t *testing.T) {
	msg := &Message{ID: 1, Failures: Failures{
		Mismatches: []IdentityKeyMismatch{{RecipientID: testAlice, IdentityKey: []byte{1, 2, 3}}},
	}}

	view, ok := Classify(msg, testAlice, nil)
	assert.True(t, ok)
	view.IdentityKey[0] = 9
	assert.Equal(t, byte(1), msg.Failures.Mismatches[0].IdentityKey[0])
}

func TestClassifySeenNotConsultedWhenHigherPriorityWins(t *testing.T) {
	msg := &Message{ID: 1, Group: true, Failures: Failures{
		Network:      []NetworkFailure{{RecipientID: testAlice}},
		Unregistered: []UnregisteredUser{{RecipientID: testAlice}},
	}}
	called := false
	_, _ = Classify(msg, testAlice, func(RecipientID) bool {
		called = true
		return true
	})
	assert.False(t, called)
}

func TestResolverClassifyDirectoryError(t *testing.T) {
	dir := newMemoryDirectory()
	dir.readErr = errors.New("directory offline")
	r := NewResolver(newMemoryStore(), dir, &mockSender{})

	msg := &Message{ID: 1, Group: true, Failures: Failures{
		Unregistered: []UnregisteredUser{{RecipientID: testAlice}},
	}}
	view, ok := r.Classify(context.Background(), msg, testAlice)
	assert.True(t, ok)
	assert.False(t, view.Acknowledged)
	assert.Equal(t, ActionAcknowledgeUnregistered, view.Action())
}

func TestFailureKindStrings(t *testing.T) {
	assert.Equal(t, "identity_mismatch", FailureIdentityMismatch.String())
	assert.Equal(t, "network", FailureNetwork.String())
	assert.Equal(t, "unregistered", FailureUnregistered.String())
	assert.Equal(t, "none", FailureNone.String())
	assert.Equal(t, "", FailureNone.Description())
	assert.Equal(t, "pending", StatusPending.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "resend", ActionResend.String())
	assert.Equal(t, "ack-unregistered", ActionAcknowledgeUnregistered.String())
}
