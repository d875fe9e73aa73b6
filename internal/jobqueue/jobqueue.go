// Package queue declares and drives the durable broker topology backing the
// large-file job system: a priority-enabled work queue, a dead-letter
// sidecar, and the publish/depth/purge operations the dispatcher and worker
// use against it.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

const (
	JobsExchange = "E_jobs"
	JobsQueue    = "Q_jobs"
	DLXExchange  = "E_dlx"
	DLQQueue     = "Q_dlq"

	JobContentType = "application/json"
	JobTypeTag     = "telarch.largefile.job"
	JobSchema      = "1.0"

	DefaultPriority = 4
)

// Config names the broker topology; defaults match spec-named topology but
// are overridable so tests and operators can target distinct brokers.
type Config struct {
	JobsExchange string
	JobsQueue    string
	DLXExchange  string
	DLQQueue     string
}

func (c Config) withDefaults() Config {
	if c.JobsExchange == "" {
		c.JobsExchange = JobsExchange
	}
	if c.JobsQueue == "" {
		c.JobsQueue = JobsQueue
	}
	if c.DLXExchange == "" {
		c.DLXExchange = DLXExchange
	}
	if c.DLQQueue == "" {
		c.DLQQueue = DLQQueue
	}
	return c
}

// Adapter is the C7 job queue collaborator.
type Adapter struct {
	connection AMQPConnection
	channel    AMQPChannel
	cfg        Config
}

// New connects via dialer, declares the full topology, and returns a ready
// Adapter.
func New(url string, cfg Config, dialer AMQPDialer) (*Adapter, error) {
	conn, err := dialer.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("jobqueue: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jobqueue: open channel: %w", err)
	}

	a := &Adapter{connection: conn, channel: ch, cfg: cfg.withDefaults()}
	if err := a.declareTopology(); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return a, nil
}

// NewWithChannel builds an Adapter over an already-open channel, for tests
// and for workers sharing a connection with other consumers.
func NewWithChannel(ch AMQPChannel, cfg Config) (*Adapter, error) {
	a := &Adapter{channel: ch, cfg: cfg.withDefaults()}
	if err := a.declareTopology(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Adapter) declareTopology() error {
	if err := a.channel.ExchangeDeclare(a.cfg.DLXExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("jobqueue: declare %s: %w", a.cfg.DLXExchange, err)
	}
	if _, err := a.channel.QueueDeclare(a.cfg.DLQQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("jobqueue: declare %s: %w", a.cfg.DLQQueue, err)
	}
	if err := a.channel.QueueBind(a.cfg.DLQQueue, a.cfg.DLQQueue, a.cfg.DLXExchange, false, nil); err != nil {
		return fmt.Errorf("jobqueue: bind %s: %w", a.cfg.DLQQueue, err)
	}

	if err := a.channel.ExchangeDeclare(a.cfg.JobsExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("jobqueue: declare %s: %w", a.cfg.JobsExchange, err)
	}
	jobsArgs := amqp.Table{
		"x-dead-letter-exchange":    a.cfg.DLXExchange,
		"x-dead-letter-routing-key": a.cfg.DLQQueue,
		"x-max-priority":            int32(9),
	}
	if _, err := a.channel.QueueDeclare(a.cfg.JobsQueue, true, false, false, false, jobsArgs); err != nil {
		return fmt.Errorf("jobqueue: declare %s: %w", a.cfg.JobsQueue, err)
	}
	if err := a.channel.QueueBind(a.cfg.JobsQueue, a.cfg.JobsQueue, a.cfg.JobsExchange, false, nil); err != nil {
		return fmt.Errorf("jobqueue: bind %s: %w", a.cfg.JobsQueue, err)
	}

	return nil
}

// JobPayload is the job message JSON published for the large-file worker.
type JobPayload struct {
	JobID           string          `json:"job_id"`
	UserID          int64           `json:"user_id"`
	ChatID          int64           `json:"chat_id"`
	MessageID       int64           `json:"message_id"`
	FileInfo        FileInfo        `json:"file_info"`
	TelegramContext TelegramContext `json:"telegram_context"`
	JobMetadata     JobMetadata     `json:"job_metadata"`
}

type FileInfo struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	FileSize     int64  `json:"file_size,omitempty"`
	FileType     string `json:"file_type"`
	FileName     string `json:"file_name,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
}

type TelegramContext struct {
	ForwardOrigin string   `json:"forward_origin,omitempty"`
	Caption       string   `json:"caption,omitempty"`
	Entities      []string `json:"entities,omitempty"`
	MediaGroupID  string   `json:"media_group_id,omitempty"`
}

type JobMetadata struct {
	CreatedAt  string `json:"created_at"`
	Priority   int    `json:"priority"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
}

// NewJobID mints a version-4 random job id.
func NewJobID() string {
	return uuid.NewString()
}

// Validate enforces the required top-level and nested keys prior to
// publish, so a malformed payload never reaches the broker.
func (p JobPayload) Validate() error {
	if p.JobID == "" {
		return fmt.Errorf("jobqueue: job_id is required")
	}
	if p.FileInfo.FileID == "" || p.FileInfo.FileUniqueID == "" || p.FileInfo.FileType == "" {
		return fmt.Errorf("jobqueue: file_info.{file_id,file_unique_id,file_type} are required")
	}
	if p.JobMetadata.CreatedAt == "" {
		return fmt.Errorf("jobqueue: job_metadata.created_at is required")
	}
	if p.JobMetadata.Priority < 0 || p.JobMetadata.Priority > 9 {
		return fmt.Errorf("jobqueue: job_metadata.priority must be in 0..9")
	}
	if p.JobMetadata.MaxRetries < 0 {
		return fmt.Errorf("jobqueue: job_metadata.max_retries must be non-negative")
	}
	return nil
}

// Publish validates and publishes a job payload at the given priority,
// defaulting to DefaultPriority when priority is out of range.
func (a *Adapter) Publish(payload JobPayload, priority int) error {
	if priority < 0 || priority > 9 {
		priority = DefaultPriority
	}
	payload.JobMetadata.Priority = priority

	if err := payload.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("jobqueue: marshal payload: %w", err)
	}

	return a.channel.Publish(a.cfg.JobsExchange, a.cfg.JobsQueue, false, false, amqp.Publishing{
		ContentType:  JobContentType,
		Type:         JobTypeTag,
		DeliveryMode: amqp.Persistent,
		Priority:     uint8(priority),
		Headers:      amqp.Table{"schema": JobSchema},
		Body:         body,
	})
}

// Depth reports the current message count on Q_jobs.
func (a *Adapter) Depth() (int, error) {
	q, err := a.channel.QueueInspect(a.cfg.JobsQueue)
	if err != nil {
		return 0, fmt.Errorf("jobqueue: inspect %s: %w", a.cfg.JobsQueue, err)
	}
	return q.Messages, nil
}

// Purge drains both Q_jobs and Q_dlq, returning the total removed.
func (a *Adapter) Purge() (int, error) {
	jobsN, err := a.channel.QueuePurge(a.cfg.JobsQueue, false)
	if err != nil {
		return 0, fmt.Errorf("jobqueue: purge %s: %w", a.cfg.JobsQueue, err)
	}
	dlqN, err := a.channel.QueuePurge(a.cfg.DLQQueue, false)
	if err != nil {
		return jobsN, fmt.Errorf("jobqueue: purge %s: %w", a.cfg.DLQQueue, err)
	}
	return jobsN + dlqN, nil
}

// Consume sets prefetch and begins consuming Q_jobs.
func (a *Adapter) Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, error) {
	if prefetch > 0 {
		if err := a.channel.Qos(prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("jobqueue: qos: %w", err)
		}
	}
	return a.channel.Consume(a.cfg.JobsQueue, consumerTag, false, false, false, false, nil)
}

// Close tears down the channel and connection, if owned.
func (a *Adapter) Close() error {
	var err error
	if a.channel != nil {
		err = a.channel.Close()
	}
	if a.connection != nil {
		if cerr := a.connection.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
