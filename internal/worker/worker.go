// Package worker implements the C8 large-file worker: it consumes jobs
// published to the durable queue, acquires their content via the alternate
// high-limit transport, uploads the result, and drives each job's row
// through its state machine.
package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/streadway/amqp"

	"github.com/teltubby/teltubby/internal/metrics"
	"github.com/teltubby/teltubby/internal/naming"
	"github.com/teltubby/teltubby/internal/objstore"
	queue "github.com/teltubby/teltubby/internal/jobqueue"
	"github.com/teltubby/teltubby/internal/store"
	"github.com/teltubby/teltubby/internal/telemetry"
	"github.com/teltubby/teltubby/internal/transport"
)

// Recoverer is invoked when the alternate transport's session has gone
// unhealthy; it runs the full C9 interactive re-authentication flow and
// reports whether the session is usable again.
type Recoverer interface {
	Recover(ctx context.Context) error
}

// Config tunes worker concurrency and acquisition bounds. MaxRetries and
// RetryDelay are carried here but the worker does not read them: a failed
// job is marked FAILED and is not retried by the worker itself.
type Config struct {
	Concurrency int
	MaxRetries  int
	RetryDelay  time.Duration
	IOTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 30 * time.Second
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = 10 * time.Minute
	}
	return c
}

// Worker is the C8 large-file job consumer.
type Worker struct {
	cfg       Config
	store     *store.Store
	obj       *objstore.Client
	jobs      *queue.Adapter
	alt       transport.AltTransportClient
	chat      transport.ChatClient
	recoverer Recoverer
	metrics   *metrics.Metrics
	simulate  bool
	now       func() time.Time
	log       *telemetry.ContextLogger
}

// New builds a Worker. If alt is nil or its initial health probe fails, the
// worker starts in simulate mode: jobs are transitioned through the state
// machine without any real acquisition or upload, which keeps the rest of
// the system exercisable in development or when credentials are absent. A
// nil log defaults to the process logger with a "worker" component field.
func New(cfg Config, st *store.Store, obj *objstore.Client, jobs *queue.Adapter, alt transport.AltTransportClient, chat transport.ChatClient, recoverer Recoverer, m *metrics.Metrics, log *telemetry.ContextLogger) *Worker {
	simulate := alt == nil
	if !simulate {
		if err := alt.GetMe(context.Background()); err != nil {
			simulate = true
		}
	}
	if m != nil {
		m.SetSimulateMode(simulate)
	}
	if log == nil {
		log = telemetry.NewContextLogger(nil, map[string]interface{}{"component": "worker"})
	}
	return &Worker{
		cfg:       cfg.withDefaults(),
		store:     st,
		obj:       obj,
		jobs:      jobs,
		alt:       alt,
		chat:      chat,
		recoverer: recoverer,
		metrics:   m,
		simulate:  simulate,
		now:       time.Now,
		log:       log,
	}
}

// Simulating reports whether the worker is currently in simulate mode.
func (w *Worker) Simulating() bool {
	return w.simulate
}

// Run consumes Q_jobs until ctx is cancelled or the delivery channel closes.
func (w *Worker) Run(ctx context.Context, consumerTag string) error {
	deliveries, err := w.jobs.Consume(consumerTag, w.cfg.Concurrency)
	if err != nil {
		return fmt.Errorf("worker: consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			w.handleDelivery(ctx, d)
		}
	}
}

func (w *Worker) handleDelivery(ctx context.Context, d amqp.Delivery) {
	defer d.Ack(false)

	var payload queue.JobPayload
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		w.log.WithError(err).Error("malformed job payload")
		return
	}

	now := w.now()
	if err := w.store.UpdateJobState(ctx, payload.JobID, store.JobProcessing, "", now); err != nil {
		w.log.WithFields(map[string]interface{}{"job_id": payload.JobID}).WithError(err).Error("transition to PROCESSING failed")
		return
	}

	acquireCtx, cancel := context.WithTimeout(ctx, w.cfg.IOTimeout)
	defer cancel()

	if err := w.processJob(acquireCtx, payload); err != nil {
		w.fail(ctx, payload, err)
		return
	}

	w.complete(ctx, payload)
}

func (w *Worker) processJob(ctx context.Context, payload queue.JobPayload) error {
	if w.simulate {
		return nil
	}

	if err := w.alt.GetMe(ctx); err != nil {
		if w.recoverer == nil {
			return fmt.Errorf("session unhealthy and no recovery path configured: %w", err)
		}
		if recErr := w.recoverer.Recover(ctx); recErr != nil {
			return fmt.Errorf("session unhealthy, recovery failed: %w", recErr)
		}
		if err := w.alt.GetMe(ctx); err != nil {
			return fmt.Errorf("session still unhealthy after recovery: %w", err)
		}
	}

	tmpFile, err := os.CreateTemp("", "teltubby-worker-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	written, err := w.alt.AcquireByMessage(ctx, payload.ChatID, payload.MessageID, tmpPath, nil)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	if written <= 0 {
		return fmt.Errorf("acquire: zero bytes on disk")
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		return fmt.Errorf("stat temp file: %w", err)
	}
	if info.Size() != written {
		return fmt.Errorf("acquire: on-disk size %d does not match reported size %d", info.Size(), written)
	}

	hash, err := hashFile(tmpPath)
	if err != nil {
		return fmt.Errorf("hash: %w", err)
	}

	contentType := payload.FileInfo.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if hit, err := w.store.CheckByHash(ctx, hash); err == nil && hit.Hit {
		return nil
	}

	key := largeFileKey(w.now(), payload)

	reopened, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("reopen temp file: %w", err)
	}
	defer reopened.Close()

	if err := w.obj.Upload(ctx, key, reopened, written, contentType); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	if err := w.store.Record(ctx, hash, key, written, contentType, payload.FileInfo.FileUniqueID); err != nil {
		return fmt.Errorf("record: %w", err)
	}

	return nil
}

func hashFile(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func largeFileKey(t time.Time, payload queue.JobPayload) string {
	name := payload.FileInfo.FileName
	if name == "" {
		name = payload.FileInfo.FileUniqueID
	}
	ext := strings.TrimPrefix(path.Ext(name), ".")
	base := strings.TrimSuffix(path.Base(name), path.Ext(name))
	if base == "" {
		base = payload.FileInfo.FileUniqueID
	}
	if ext == "" {
		ext = "bin"
	}
	filename := naming.Slug(base) + "." + naming.Slug(ext)
	return fmt.Sprintf("teltubby/%04d/%02d/mtproto/%d/%s", t.Year(), t.Month(), payload.MessageID, filename)
}

func (w *Worker) complete(ctx context.Context, payload queue.JobPayload) {
	now := w.now()
	jobLog := w.log.WithFields(map[string]interface{}{"job_id": payload.JobID, "message_id": payload.MessageID, "chat_id": payload.ChatID})
	if err := w.store.UpdateJobState(ctx, payload.JobID, store.JobCompleted, "", now); err != nil {
		jobLog.WithError(err).Error("transition to COMPLETED failed")
	}
	if w.metrics != nil {
		w.metrics.RecordJobAttempt("success")
	}
	if w.chat != nil {
		msg := fmt.Sprintf("Archived large file for message %d.", payload.MessageID)
		if err := w.chat.SendMessage(ctx, payload.ChatID, msg); err != nil {
			jobLog.WithError(err).Error("confirmation notice failed")
		}
	}
}

func (w *Worker) fail(ctx context.Context, payload queue.JobPayload, cause error) {
	now := w.now()
	jobLog := w.log.WithFields(map[string]interface{}{"job_id": payload.JobID, "message_id": payload.MessageID, "chat_id": payload.ChatID})
	if err := w.store.UpdateJobState(ctx, payload.JobID, store.JobFailed, cause.Error(), now); err != nil {
		jobLog.WithError(err).Error("transition to FAILED failed")
	}
	if w.metrics != nil {
		w.metrics.RecordJobAttempt("failure")
	}
	jobLog.WithError(cause).Error("job failed")
}
