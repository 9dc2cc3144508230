package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"golang.org/x/sync/errgroup"

	"medsnap-backend/internal/bootstrap"
	"medsnap-backend/internal/reconcile"
	"medsnap-backend/internal/shared/config"
	"medsnap-backend/internal/shared/storage/object"
	"medsnap-backend/internal/shared/telemetry"
	"medsnap-backend/internal/workerproc"
)

const (
	sqsRegion                 = "us-east-1"
	defaultVisibilitySeconds  = 120
	defaultWorkerConcurrency  = 4
	defaultShutdownTimeoutSec = 30
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(cfg)
	if err != nil {
		fatal("worker.bootstrap_failed", err)
	}
	defer app.Close()

	sched, err := reconcile.NewScheduler(ctx, app.Reconcile, cfg.ReconcileCron)
	if err != nil {
		fatal("worker.reconcile_schedule_failed", err)
	}
	sched.Start()
	defer sched.Shutdown()

	queueURL := strings.TrimSpace(cfg.QueueURL)
	if queueURL == "" {
		telemetry.Warn("worker.queue_disabled", map[string]any{"reason": "MEDSNAP_SQS_QUEUE_URL empty"})
		<-ctx.Done()
		return
	}

	visibilitySeconds := envInt("MEDSNAP_SQS_VISIBILITY_TIMEOUT_SECONDS", defaultVisibilitySeconds)
	concurrency := envInt("MEDSNAP_WORKER_CONCURRENCY", defaultWorkerConcurrency)
	shutdownTimeout := time.Duration(envInt("MEDSNAP_SHUTDOWN_TIMEOUT_SECONDS", defaultShutdownTimeoutSec)) * time.Second

	region := cfg.AWSRegion
	if region == "" {
		region = sqsRegion
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		fatal("worker.aws_config_failed", err)
	}
	var sqsClient sqsAPI = sqs.NewFromConfig(awsCfg)

	var inflight errgroup.Group
	inflight.SetLimit(max(1, concurrency))

	telemetry.Info("worker.started", map[string]any{
		"queue_url":   queueURL,
		"concurrency": concurrency,
		"visibility":  visibilitySeconds,
	})

pollLoop:
	for {
		select {
		case <-ctx.Done():
			break pollLoop
		default:
		}

		resp, err := sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   int32(visibilitySeconds),
			AttributeNames:      []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName("ApproximateReceiveCount")},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break pollLoop
			}
			telemetry.Error("worker.receive_failed", map[string]any{"error": err.Error()})
			continue
		}

		if !dispatch(ctx, &inflight, resp.Messages, func(m sqstypes.Message) {
			handleMessage(ctx, sqsClient, queueURL, app.Store, m)
		}) {
			break pollLoop
		}
	}

	telemetry.Info("worker.draining", map[string]any{"timeout": shutdownTimeout.String()})
	waitDone := make(chan struct{})
	go func() {
		_ = inflight.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(shutdownTimeout):
		telemetry.Warn("worker.shutdown_timeout", nil)
	}
}

// dispatch hands each message to the group, blocking while the group is at
// its limit. It returns false once ctx is done.
func dispatch(ctx context.Context, group *errgroup.Group, msgs []sqstypes.Message, handle func(sqstypes.Message)) bool {
	for _, msg := range msgs {
		if ctx.Err() != nil {
			return false
		}
		group.Go(func() error {
			handle(msg)
			return nil
		})
	}
	return ctx.Err() == nil
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

func handleMessage(ctx context.Context, client sqsAPI, queueURL string, store object.Store, msg sqstypes.Message) {
	body := aws.ToString(msg.Body)

	decoded, meta, err := workerproc.ParseMessage(body)
	if err != nil {
		fields := baseFields(msg, "", "")
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		fields["error"] = err.Error()
		telemetry.Error("worker.cleanup.invalid", fields)
		deleteMessage(ctx, client, queueURL, msg, "", "")
		return
	}

	telemetry.Info("worker.cleanup.received", baseFields(msg, decoded.StorageKey, decoded.RequestID))

	ctxWithParsed := workerproc.WithParsedMessage(ctx, decoded)
	if err := workerproc.HandleMessage(ctxWithParsed, store, body); err != nil {
		fields := baseFields(msg, decoded.StorageKey, decoded.RequestID)
		fields["error"] = err.Error()
		if workerproc.Unrecoverable(err) {
			telemetry.Error("worker.cleanup.invalid", fields)
			deleteMessage(ctx, client, queueURL, msg, decoded.StorageKey, decoded.RequestID)
			return
		}
		// left on the queue; SQS redelivers after the visibility timeout
		telemetry.Error("worker.cleanup.failed", fields)
		return
	}

	if deleteMessage(ctx, client, queueURL, msg, decoded.StorageKey, decoded.RequestID) {
		telemetry.Info("worker.cleanup.completed", baseFields(msg, decoded.StorageKey, decoded.RequestID))
	}
}

func deleteMessage(ctx context.Context, client sqsAPI, queueURL string, msg sqstypes.Message, storageKey, requestID string) bool {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		fields := baseFields(msg, storageKey, requestID)
		fields["error"] = "missing receipt handle"
		telemetry.Error("worker.cleanup.ack_failed", fields)
		return false
	}
	if _, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		fields := baseFields(msg, storageKey, requestID)
		fields["error"] = err.Error()
		telemetry.Error("worker.cleanup.ack_failed", fields)
		return false
	}
	return true
}

func baseFields(msg sqstypes.Message, storageKey, requestID string) map[string]any {
	fields := map[string]any{
		"storage_key":    storageKey,
		"sqs_message_id": aws.ToString(msg.MessageId),
		"receive_count":  receiveCount(msg),
	}
	if strings.TrimSpace(requestID) != "" {
		fields["request_id"] = requestID
	}
	return fields
}

func receiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 0
	}
	raw := msg.Attributes["ApproximateReceiveCount"]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}

func fatal(msg string, err error) {
	telemetry.Error(msg, map[string]any{"error": err.Error()})
	os.Exit(1)
}
