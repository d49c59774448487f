package app

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/padala/verification-service/internal/domain"
)

func TestHandleMessageDropsMalformedJob(t *testing.T) {
	fx := newPipelineFixture(t)
	consumer := NewSubmissionJobConsumer(NewPipeline(fx.svc,
		&fakeRecognizer{text: cleanReceiptText(fx.order.Amount), confidence: 92},
		&fakeFetcher{data: screenshotPNG(t)},
	), time.Minute)

	if !consumer.HandleMessage([]byte("{broken")) {
		t.Error("malformed job payloads must be acked and dropped")
	}
}

func TestHandleMessageRequeuesOnInfrastructureError(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.repo.findSubmissionErr = errors.New("connection refused")
	consumer := NewSubmissionJobConsumer(NewPipeline(fx.svc,
		&fakeRecognizer{text: cleanReceiptText(fx.order.Amount), confidence: 92},
		&fakeFetcher{data: screenshotPNG(t)},
	), time.Minute)

	body, err := json.Marshal(fx.job)
	if err != nil {
		t.Fatalf("marshal job: %v", err)
	}
	if consumer.HandleMessage(body) {
		t.Error("infrastructure failures must requeue the job")
	}
}

func TestHandleMessageAcksProcessedJob(t *testing.T) {
	fx := newPipelineFixture(t)
	consumer := NewSubmissionJobConsumer(NewPipeline(fx.svc,
		&fakeRecognizer{text: cleanReceiptText(fx.order.Amount), confidence: 92},
		&fakeFetcher{data: screenshotPNG(t)},
	), time.Minute)

	body, err := json.Marshal(fx.job)
	if err != nil {
		t.Fatalf("marshal job: %v", err)
	}
	if !consumer.HandleMessage(body) {
		t.Error("a fully processed job must be acked")
	}
	if fx.repo.submissions[fx.sub.ID].Status != domain.SubmissionStatusApproved {
		t.Errorf("submission status = %q, want approved", fx.repo.submissions[fx.sub.ID].Status)
	}
}
