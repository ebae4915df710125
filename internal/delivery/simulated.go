package delivery

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Simulated adapters used for local development and wiring. They log the
// outbound action and fabricate provider ids.

type SimulatedTextSender struct {
	logger *zap.Logger
}

func NewSimulatedTextSender(logger *zap.Logger) *SimulatedTextSender {
	return &SimulatedTextSender{logger: logger}
}

func (s *SimulatedTextSender) SendText(ctx context.Context, tenantID int64, phoneNumber, message string) (string, error) {
	id := "sm_" + uuid.NewString()
	s.logger.Info("Sending SMS",
		zap.Int64("tenant_id", tenantID),
		zap.String("phone", phoneNumber),
		zap.String("message", message),
		zap.String("provider_message_id", id),
	)
	return id, nil
}

type SimulatedCallPlacer struct {
	logger *zap.Logger
}

func NewSimulatedCallPlacer(logger *zap.Logger) *SimulatedCallPlacer {
	return &SimulatedCallPlacer{logger: logger}
}

func (s *SimulatedCallPlacer) PlaceCall(ctx context.Context, phoneNumber, calleeName, callContext string) (string, error) {
	id := "ca_" + uuid.NewString()
	s.logger.Info("Placing call",
		zap.String("phone", phoneNumber),
		zap.String("callee", calleeName),
		zap.String("context", callContext),
		zap.String("provider_call_id", id),
	)
	return id, nil
}

type SimulatedPaymentLinkCreator struct {
	logger *zap.Logger
}

func NewSimulatedPaymentLinkCreator(logger *zap.Logger) *SimulatedPaymentLinkCreator {
	return &SimulatedPaymentLinkCreator{logger: logger}
}

func (s *SimulatedPaymentLinkCreator) CreatePaymentLink(ctx context.Context, customerName string, jobID int64, amountCents int64) (string, error) {
	url := fmt.Sprintf("https://pay.example.com/link/%s", uuid.NewString())
	s.logger.Info("Creating payment link",
		zap.String("customer", customerName),
		zap.Int64("job_id", jobID),
		zap.Int64("amount_cents", amountCents),
		zap.String("url", url),
	)
	return url, nil
}

type SimulatedChatSender struct {
	logger *zap.Logger
}

func NewSimulatedChatSender(logger *zap.Logger) *SimulatedChatSender {
	return &SimulatedChatSender{logger: logger}
}

func (s *SimulatedChatSender) SendChatMessage(ctx context.Context, tenantID int64, message string) error {
	s.logger.Info("Sending chat-ops message",
		zap.Int64("tenant_id", tenantID),
		zap.String("message", message),
	)
	return nil
}
