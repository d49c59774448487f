package app

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/padala/verification-service/internal/config"
	"github.com/padala/verification-service/pkg/rabbitmq"
)

// fakePublisher records published messages instead of talking to RabbitMQ.
type fakePublisher struct {
	published  []publishedMessage
	events     []rabbitmq.VerificationCompletedEvent
	publishErr error
}

type publishedMessage struct {
	exchange   string
	routingKey string
	body       interface{}
}

func (p *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	if p.publishErr != nil {
		return p.publishErr
	}
	p.published = append(p.published, publishedMessage{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *fakePublisher) PublishVerificationCompleted(ctx context.Context, exchange string, event rabbitmq.VerificationCompletedEvent) error {
	if p.publishErr != nil {
		return p.publishErr
	}
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) Close() {}

// fakeValidator approves every URL unless told otherwise.
type fakeValidator struct {
	err error
}

func (v *fakeValidator) ValidateURL(rawURL string, accountID uuid.UUID) error {
	return v.err
}

func testConfig() config.Config {
	return config.Config{
		VerificationExchange:    "verification_events",
		ReceivingProvider:       "GCash",
		ReceivingAccountName:    "Padala Platform Inc",
		ReceivingAccountNumber:  "0917 123 4567",
		OrderExpiryMinutes:      60,
		TopUpMaxAmount:          5000000,
		TopUpDailyLimit:         10,
		AutoApproveThreshold:    20,
		AutoRejectThreshold:     70,
		MinOCRConfidence:        60,
		SimilarHashDistance:     0.15,
		ReceiptFreshnessHours:   24,
		SubmissionVelocityLimit: 5,
		NewAccountAgeDays:       7,
		HighValueAmount:         1000000,
		FeeCapUnverified:        200000,
		FeeCapNewAccount:        500000,
		FeeCapEstablished:       2000000,
		ReconcileBatchSize:      100,
		PipelineTimeoutSeconds:  120,
		SettingsCacheTTLSeconds: 60,
	}
}

func newTestService(repo *fakeRepo, producer *fakePublisher) *Service {
	settings := NewSettingsService(repo, time.Minute)
	return NewService(repo, producer, settings, nil, &fakeValidator{}, testConfig())
}
