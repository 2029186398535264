package store

import (
	"context"

	"github.com/opd-ai/deliverycore/delivery"
)

// nopSender accepts every transport call.
type nopSender struct{}

func (nopSender) Resend(context.Context, delivery.MessageID) error { return nil }

func (nopSender) ResendToRecipient(context.Context, delivery.MessageID, delivery.RecipientID) error {
	return nil
}

func (nopSender) TrustIdentity(context.Context, delivery.RecipientID, []byte) error { return nil }
