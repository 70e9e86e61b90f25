package whatsapp

import (
	"context"

	"github.com/google/uuid"

	"github.com/wolfman30/dental-crm-messaging/internal/phone"
	"github.com/wolfman30/dental-crm-messaging/pkg/logging"
)

// StubClient logs sends instead of calling the gateway. Used when no gateway
// is configured in development.
type StubClient struct {
	logger *logging.Logger
}

func NewStubClient(logger *logging.Logger) *StubClient {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubClient{logger: logger.Component("whatsapp-stub")}
}

func (s *StubClient) SendMessage(_ context.Context, channelID, to, content, mediaURL string) (SendResult, error) {
	id := "stub-" + uuid.NewString()
	s.logger.Info("stub whatsapp send", "channel_id", channelID, "phone", phone.Mask(to), "chars", len([]rune(content)), "has_media", mediaURL != "", "provider_message_id", id)
	return SendResult{Success: true, ProviderMessageID: id}, nil
}
