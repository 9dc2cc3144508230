package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"medsnap-backend/internal/bootstrap"
	"medsnap-backend/internal/shared/config"
	"medsnap-backend/internal/shared/storage/object"
	"medsnap-backend/internal/shared/telemetry"
	"medsnap-backend/internal/workerproc"
)

var (
	initOnce sync.Once
	initErr  error
	store    object.Store
)

func initApp() {
	cfg := config.Load()
	built, err := bootstrap.Build(cfg)
	if err != nil {
		initErr = err
		return
	}
	store = built.Store
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		telemetry.Error("lambda.bootstrap_failed", map[string]any{"error": initErr.Error()})
		failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
		for _, record := range event.Records {
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
		return events.SQSEventResponse{BatchItemFailures: failures}, initErr
	}
	return processBatch(ctx, store, event), nil
}

// processBatch reports only retryable failures; malformed messages are dropped.
func processBatch(ctx context.Context, store object.Store, event events.SQSEvent) events.SQSEventResponse {
	failures := make([]events.SQSBatchItemFailure, 0)
	for _, record := range event.Records {
		err := workerproc.HandleMessage(ctx, store, record.Body)
		if err == nil {
			continue
		}
		fields := map[string]any{"sqs_message_id": record.MessageId, "error": err.Error()}
		if workerproc.Unrecoverable(err) {
			telemetry.Error("worker.cleanup.dropped", fields)
			continue
		}
		telemetry.Warn("worker.cleanup.retry", fields)
		failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func main() {
	lambda.Start(handler)
}
