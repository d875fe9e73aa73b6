// Package dispatch is the C10 entry point: it receives one update at a time
// from the chat platform's receive loop, gates it against the admin
// whitelist and the quota, routes media either into the album aggregator
// (small path) or straight onto the broker (large path), and drives the
// 1-second album-flusher task that turns expired buckets into ingestion
// runs. It also implements the administrative command surface.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"

	"github.com/teltubby/teltubby/internal/aggregator"
	"github.com/teltubby/teltubby/internal/ingest"
	queue "github.com/teltubby/teltubby/internal/jobqueue"
	"github.com/teltubby/teltubby/internal/metrics"
	"github.com/teltubby/teltubby/internal/notify"
	"github.com/teltubby/teltubby/internal/objstore"
	"github.com/teltubby/teltubby/internal/quota"
	"github.com/teltubby/teltubby/internal/store"
	"github.com/teltubby/teltubby/internal/telemetry"
	"github.com/teltubby/teltubby/internal/transport"
)

// DefaultFlushInterval is the album-flusher tick cadence from spec §4.10.
const DefaultFlushInterval = time.Second

// Simulator reports whether a long-lived supervisor has fallen back to
// simulate mode. Satisfied by both worker.Worker and authrecovery.Manager.
type Simulator interface {
	Simulating() bool
}

// Update is one inbound message as the chat-platform adapter reports it,
// already reduced to what dispatch needs regardless of the concrete client.
type Update struct {
	ChatID          int64
	ChatTitle       string
	ChatUsername    string
	IsPrivateChat   bool
	SenderID        int64
	SenderUsername  string
	MessageID       int64
	Timestamp       time.Time
	Text            string
	GroupID         string
	OriginSlug      string
	SenderSlug      string
	ForwardOrigin   string
	CaptionPlain    string
	CaptionEntities []string
	Entities        []string
	Media           []transport.MediaItem
}

// Config tunes the dispatcher's admission and routing policy.
type Config struct {
	Admins              []int64
	FlushInterval       time.Duration
	SmallPathLimitBytes int64
	WorkerMaxRetries    int
	BotMode             string
}

func (c Config) withDefaults() Config {
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	return c
}

// Dispatcher is the C10 router and admin command surface.
type Dispatcher struct {
	cfg Config

	aggregator *aggregator.Aggregator
	pipeline   *ingest.Pipeline
	jobs       *queue.Adapter
	store      *store.Store
	obj        *objstore.Client
	chat       transport.ChatClient
	notifier   *notify.Notifier
	quota      *quota.Tracker
	metrics    *metrics.Metrics
	worker     Simulator
	authMgr    Simulator

	now func() time.Time
	log *telemetry.ContextLogger
}

// New builds a Dispatcher. jobs, obj, worker, authMgr, and metrics may be
// nil; the corresponding commands and routing paths degrade gracefully (the
// large-file path and a handful of admin commands simply report
// unavailability instead of panicking). A nil log defaults to the process
// logger with a "dispatch" component field.
func New(
	cfg Config,
	agg *aggregator.Aggregator,
	pipeline *ingest.Pipeline,
	jobs *queue.Adapter,
	st *store.Store,
	obj *objstore.Client,
	chat transport.ChatClient,
	notifier *notify.Notifier,
	tracker *quota.Tracker,
	m *metrics.Metrics,
	worker Simulator,
	authMgr Simulator,
	log *telemetry.ContextLogger,
) *Dispatcher {
	if log == nil {
		log = telemetry.NewContextLogger(nil, map[string]interface{}{"component": "dispatch"})
	}
	return &Dispatcher{
		cfg:        cfg.withDefaults(),
		aggregator: agg,
		pipeline:   pipeline,
		jobs:       jobs,
		store:      st,
		obj:        obj,
		chat:       chat,
		notifier:   notifier,
		quota:      tracker,
		metrics:    m,
		worker:     worker,
		authMgr:    authMgr,
		now:        time.Now,
		log:        log,
	}
}

func (d *Dispatcher) isAdmin(userID int64) bool {
	for _, id := range d.cfg.Admins {
		if id == userID {
			return true
		}
	}
	return false
}

// mediaEnvelope is the aggregator.Message payload dispatch hands to the
// aggregator: enough of the originating update to rebuild a full
// ingest.BatchInput once every item of a group has arrived.
type mediaEnvelope struct {
	update Update
	item   transport.MediaItem
}

// HandleUpdate is the receive loop's single entry point. Errors returned are
// unexpected failures only; every expected rejection (InputRejected in the
// spec's taxonomy) is handled silently and returns nil.
func (d *Dispatcher) HandleUpdate(ctx context.Context, u Update) error {
	if !u.IsPrivateChat || !d.isAdmin(u.SenderID) {
		return nil
	}

	if text := strings.TrimSpace(u.Text); text != "" && looksLikeCommand(text) {
		return d.handleCommand(ctx, u, text)
	}

	if len(u.Media) == 0 {
		return nil
	}

	if d.quota != nil && d.quota.Paused(ctx) {
		if d.metrics != nil {
			d.metrics.SetQuotaRatio(d.quota.UsedRatio(ctx))
		}
		d.warn(ctx, "archive paused: storage quota exceeded")
		return d.reply(ctx, u.ChatID, "Archiving is paused: the storage quota has been reached.")
	}

	return d.routeMedia(ctx, u)
}

func (d *Dispatcher) routeMedia(ctx context.Context, u Update) error {
	for _, item := range u.Media {
		if d.isLargeFile(item) {
			if err := d.publishJob(ctx, u, item); err != nil {
				d.log.WithFields(map[string]interface{}{"message_id": u.MessageID, "chat_id": u.ChatID}).WithError(err).Error("publish job failed")
				_ = d.reply(ctx, u.ChatID, fmt.Sprintf("Failed to queue large file from message %d: %v", u.MessageID, err))
			}
			continue
		}
		d.addToAggregator(ctx, u, item)
	}
	return nil
}

func (d *Dispatcher) isLargeFile(item transport.MediaItem) bool {
	if d.chat != nil && d.chat.TooBig(item) {
		return true
	}
	return d.cfg.SmallPathLimitBytes > 0 && item.DeclaredSize > d.cfg.SmallPathLimitBytes
}

func (d *Dispatcher) addToAggregator(ctx context.Context, u Update, item transport.MediaItem) {
	msg := aggregator.Message{
		GroupID:   u.GroupID,
		Timestamp: u.Timestamp,
		Payload:   mediaEnvelope{update: u, item: item},
	}
	if batch, ready := d.aggregator.Add(msg); ready {
		d.dispatchBatch(ctx, batch)
	}
}

// RunFlusher drives the 1-second (by default) album-flush task until ctx is
// cancelled, turning every bucket FlushReady reports as expired into an
// ingestion run.
func (d *Dispatcher) RunFlusher(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, batch := range d.aggregator.FlushReady() {
				d.dispatchBatch(ctx, batch)
			}
		}
	}
}

func (d *Dispatcher) dispatchBatch(ctx context.Context, batch aggregator.Batch) {
	if len(batch.Messages) == 0 {
		return
	}
	first, ok := batch.Messages[0].Payload.(mediaEnvelope)
	if !ok {
		d.log.WithFields(map[string]interface{}{"batch_id": batch.GroupID}).Error("unexpected payload type, dropping batch")
		return
	}

	in := ingest.BatchInput{
		GroupID:             batch.GroupID,
		FirstMessageID:      first.update.MessageID,
		MessageID:           first.update.MessageID,
		MessageTimestampUTC: first.update.Timestamp,
		OriginSlug:          first.update.OriginSlug,
		SenderSlug:          first.update.SenderSlug,
		ChatID:              first.update.ChatID,
		ChatTitle:           first.update.ChatTitle,
		ChatUsername:        first.update.ChatUsername,
		SenderID:            first.update.SenderID,
		SenderUsername:      first.update.SenderUsername,
		ForwardOrigin:       first.update.ForwardOrigin,
		CaptionPlain:        first.update.CaptionPlain,
		CaptionEntities:     first.update.CaptionEntities,
		Entities:            first.update.Entities,
	}
	for _, msg := range batch.Messages {
		env, ok := msg.Payload.(mediaEnvelope)
		if !ok {
			continue
		}
		in.Items = append(in.Items, ingest.BatchItem{Item: env.item})
	}

	if _, err := d.pipeline.ProcessBatch(ctx, in); err != nil {
		d.log.WithFields(map[string]interface{}{"message_id": in.FirstMessageID, "batch_id": in.GroupID}).WithError(err).Error("batch processing failed")
		d.warn(ctx, fmt.Sprintf("batch for message %d failed: %v", in.FirstMessageID, err))
	}
}

func (d *Dispatcher) publishJob(ctx context.Context, u Update, item transport.MediaItem) error {
	if d.jobs == nil {
		return fmt.Errorf("dispatch: no job queue configured for the large-file path")
	}

	jobID := queue.NewJobID()
	payload := queue.JobPayload{
		JobID:     jobID,
		UserID:    u.SenderID,
		ChatID:    u.ChatID,
		MessageID: u.MessageID,
		FileInfo: queue.FileInfo{
			FileID:       item.SourceID,
			FileUniqueID: item.SourceUniqueID,
			FileSize:     item.DeclaredSize,
			FileType:     string(item.Kind),
			FileName:     item.DeclaredName,
			MimeType:     item.MimeType,
		},
		TelegramContext: queue.TelegramContext{
			ForwardOrigin: u.ForwardOrigin,
			Caption:       u.CaptionPlain,
			Entities:      u.Entities,
			MediaGroupID:  u.GroupID,
		},
		JobMetadata: queue.JobMetadata{
			CreatedAt:  d.now().UTC().Format(time.RFC3339),
			Priority:   queue.DefaultPriority,
			MaxRetries: d.cfg.WorkerMaxRetries,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}

	if err := d.store.UpsertJob(ctx, jobID, u.SenderID, u.ChatID, u.MessageID, store.JobPending, payload.JobMetadata.Priority, d.now(), string(body)); err != nil {
		return fmt.Errorf("record job: %w", err)
	}

	if err := d.jobs.Publish(payload, payload.JobMetadata.Priority); err != nil {
		_ = d.store.UpdateJobState(ctx, jobID, store.JobFailed, err.Error(), d.now())
		return fmt.Errorf("publish: %w", err)
	}

	if d.metrics != nil {
		d.metrics.RecordJobCreated()
	}

	return d.reply(ctx, u.ChatID, fmt.Sprintf("Queued large file from message %d (job %s, %s).", u.MessageID, jobID, humanize.Bytes(uint64(item.DeclaredSize))))
}

func (d *Dispatcher) warn(ctx context.Context, message string) {
	if d.notifier == nil {
		return
	}
	_ = d.notifier.Warning(ctx, message)
}

func (d *Dispatcher) reply(ctx context.Context, chatID int64, text string) error {
	if d.chat == nil {
		return nil
	}
	return d.chat.SendMessage(ctx, chatID, text)
}

func looksLikeCommand(text string) bool {
	verb := strings.Fields(text)[0]
	switch strings.ToLower(verb) {
	case "start", "help", "status", "quota", "mode", "db_maint",
		"mtcode", "mtpass", "mtstatus", "queue", "jobs", "retry", "cancel", "purge":
		return true
	default:
		return false
	}
}
