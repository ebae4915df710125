// Package delivery defines the outbound provider capabilities the
// orchestration core depends on. Concrete vendor SDKs live behind these
// interfaces; the core only sees success, a provider id, or an error.
package delivery

import "context"

// TextSender sends one SMS and returns the provider-assigned message id.
type TextSender interface {
	SendText(ctx context.Context, tenantID int64, phoneNumber, message string) (providerMessageID string, err error)
}

// CallPlacer places one outbound voice call.
type CallPlacer interface {
	PlaceCall(ctx context.Context, phoneNumber, calleeName, callContext string) (providerCallID string, err error)
}

// PaymentLinkCreator creates a hosted payment link for a job.
type PaymentLinkCreator interface {
	CreatePaymentLink(ctx context.Context, customerName string, jobID int64, amountCents int64) (url string, err error)
}

// ChatSender posts an internal chat-ops message (owner alerts).
type ChatSender interface {
	SendChatMessage(ctx context.Context, tenantID int64, message string) error
}
