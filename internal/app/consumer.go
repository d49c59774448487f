/**
 * @description
 * This file implements the queue-facing side of the pipeline worker: decoding
 * submission jobs off RabbitMQ and running them through the pipeline under a
 * wall-clock ceiling.
 *
 * @notes
 * - The handler returns false only for errors worth redelivering. Malformed
 *   payloads are acked and dropped: redelivery cannot fix them.
 */

package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/padala/verification-service/internal/domain"
)

// SubmissionJobConsumer adapts the pipeline to the queue consumer's
// handler contract.
type SubmissionJobConsumer struct {
	pipeline *Pipeline
	timeout  time.Duration
}

// NewSubmissionJobConsumer creates the consumer with the pipeline's per-job
// timeout.
func NewSubmissionJobConsumer(pipeline *Pipeline, timeout time.Duration) *SubmissionJobConsumer {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &SubmissionJobConsumer{pipeline: pipeline, timeout: timeout}
}

// HandleMessage processes one delivery. The returned bool is the ack decision:
// false requeues the message.
func (c *SubmissionJobConsumer) HandleMessage(body []byte) bool {
	var job domain.SubmissionJob
	if err := json.Unmarshal(body, &job); err != nil {
		log.Printf("level=error component=submission_consumer msg=\"dropping malformed job payload\" err=%v", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.pipeline.Process(ctx, job); err != nil {
		log.Printf("level=error component=submission_consumer msg=\"job failed; requeueing\" submission_id=%s err=%v",
			job.SubmissionID, err)
		return false
	}
	return true
}
