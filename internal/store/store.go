// Package store implements teltubby's dedup/job store: a single-writer,
// write-ahead-logged SQLite database holding the content-hash index, the
// source-unique-id map, job rows with their state machine, and short-lived
// auth secrets used by interactive re-authentication.
//
// The store is the sole owner of all persistent rows; every other component
// mutates state through the narrow API exposed here. Writes are serialized
// through a single *gorm.DB handle backed by SQLite's WAL journal mode, which
// gives one writer and many concurrent readers without an external database
// process.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// JobState is one state in the large-file job's lifecycle.
type JobState string

const (
	JobPending    JobState = "PENDING"
	JobProcessing JobState = "PROCESSING"
	JobCompleted  JobState = "COMPLETED"
	JobFailed     JobState = "FAILED"
	JobRetrying   JobState = "RETRYING"
	JobCancelled  JobState = "CANCELLED"
)

// AuthSecretCode and AuthSecretPassword are the only recognized auth secret keys.
const (
	AuthSecretCode     = "code"
	AuthSecretPassword = "password"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// FileRecord is a content-addressed archive entry. ContentHash is the
// primary key; no two file records may share a hash.
type FileRecord struct {
	ContentHash string `gorm:"column:content_hash;primaryKey"`
	ObjectKey   string `gorm:"column:object_key;not null"`
	SizeBytes   int64  `gorm:"column:size_bytes;not null"`
	MediaType   string `gorm:"column:media_type"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (FileRecord) TableName() string { return "files" }

// SourceMapEntry maps a source-unique-id (stable across re-shares) to the
// content hash of the file it was last seen pointing at.
type SourceMapEntry struct {
	SourceUniqueID string `gorm:"column:source_unique_id;primaryKey"`
	ContentHash    string `gorm:"column:content_hash;not null;index"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (SourceMapEntry) TableName() string { return "source_map" }

// Job is a unit of work for the large-file path.
type Job struct {
	JobID      string   `gorm:"column:job_id;primaryKey"`
	UserID     int64    `gorm:"column:user_id;not null"`
	ChatID     int64    `gorm:"column:chat_id;not null"`
	MessageID  int64    `gorm:"column:message_id;not null"`
	State      JobState `gorm:"column:state;not null;index"`
	Priority   int      `gorm:"column:priority;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime;index"`
	LastError  string   `gorm:"column:last_error"`
	PayloadJSON string  `gorm:"column:payload_json"`
}

func (Job) TableName() string { return "jobs" }

// JobAttempt is an append-only log entry for a single attempt at a job.
type JobAttempt struct {
	ID         uint      `gorm:"column:id;primaryKey;autoIncrement"`
	JobID      string    `gorm:"column:job_id;not null;index"`
	Attempt    int       `gorm:"column:attempt;not null"`
	StartedAt  time.Time `gorm:"column:started_at"`
	FinishedAt *time.Time `gorm:"column:finished_at"`
	Success    bool      `gorm:"column:success"`
	Error      string    `gorm:"column:error"`
}

func (JobAttempt) TableName() string { return "job_attempts" }

// AuthSecret is a short-lived key-value pair used for interactive login.
type AuthSecret struct {
	Key       string    `gorm:"column:key;primaryKey"`
	Value     string    `gorm:"column:value;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (AuthSecret) TableName() string { return "auth_secrets" }

// PurgeCounts reports how many rows were removed per table by PurgeAll.
type PurgeCounts struct {
	Files      int64
	SourceMap  int64
	Jobs       int64
	JobAttempts int64
	AuthSecrets int64
}

// CheckResult is the result of a dedup lookup.
type CheckResult struct {
	Hit bool
	Key string
}

// Store is the dedup/job store. A single *gorm.DB handle serializes writes;
// the mutex below additionally serializes compound read-modify-write
// sequences (upsert_job, record) that GORM does not make atomic on its own.
type Store struct {
	db   *gorm.DB
	path string
	mu   sync.Mutex
}

// Open opens (creating if absent) a SQLite database at path in WAL mode with
// a single-writer connection pool, and migrates the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on", path)
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("store: underlying sql.DB: %w", err)
	}
	// SQLite with WAL supports exactly one writer; cap the pool so GORM never
	// hands out a second connection that would contend on the write lock.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := gormDB.AutoMigrate(&FileRecord{}, &SourceMapEntry{}, &Job{}, &JobAttempt{}, &AuthSecret{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{db: gormDB, path: path}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CheckByUnique looks up a source-unique-id, returning the content hash's
// object key if the chain (uid -> hash -> file record) resolves.
func (s *Store) CheckByUnique(ctx context.Context, uid string) (CheckResult, error) {
	var entry SourceMapEntry
	err := s.db.WithContext(ctx).Where("source_unique_id = ?", uid).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CheckResult{Hit: false}, nil
	}
	if err != nil {
		return CheckResult{}, fmt.Errorf("store: check_by_unique: %w", err)
	}
	return s.CheckByHash(ctx, entry.ContentHash)
}

// CheckByHash looks up a content hash directly against the file record table.
func (s *Store) CheckByHash(ctx context.Context, hash string) (CheckResult, error) {
	var record FileRecord
	err := s.db.WithContext(ctx).Where("content_hash = ?", hash).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CheckResult{Hit: false}, nil
	}
	if err != nil {
		return CheckResult{}, fmt.Errorf("store: check_by_hash: %w", err)
	}
	return CheckResult{Hit: true, Key: record.ObjectKey}, nil
}

// Record idempotently inserts a file record and, when uid is non-empty, a
// source map entry, in a single transaction. Re-recording an existing hash
// or uid is a no-op rather than an error.
func (s *Store) Record(ctx context.Context, hash, key string, size int64, mediaType, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := FileRecord{ContentHash: hash, ObjectKey: key, SizeBytes: size, MediaType: mediaType}
		if err := tx.Where("content_hash = ?", hash).FirstOrCreate(&record).Error; err != nil {
			return fmt.Errorf("record file: %w", err)
		}
		if uid == "" {
			return nil
		}
		entry := SourceMapEntry{SourceUniqueID: uid, ContentHash: hash}
		if err := tx.Where("source_unique_id = ?", uid).FirstOrCreate(&entry).Error; err != nil {
			return fmt.Errorf("record source map: %w", err)
		}
		return nil
	})
}

// UpsertJob inserts a job row, or updates state/priority/updated-at on an
// existing one. Payload is only written when non-empty, so a state-only
// transition never clobbers the stored payload.
func (s *Store) UpsertJob(ctx context.Context, jobID string, userID, chatID, messageID int64, state JobState, priority int, now time.Time, payloadJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Job
		err := tx.Where("job_id = ?", jobID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			job := Job{
				JobID: jobID, UserID: userID, ChatID: chatID, MessageID: messageID,
				State: state, Priority: priority, CreatedAt: now, UpdatedAt: now,
				PayloadJSON: payloadJSON,
			}
			return tx.Create(&job).Error
		case err != nil:
			return fmt.Errorf("lookup job: %w", err)
		default:
			updates := map[string]interface{}{
				"state":      state,
				"priority":   priority,
				"updated_at": now,
			}
			if payloadJSON != "" {
				updates["payload_json"] = payloadJSON
			}
			return tx.Model(&Job{}).Where("job_id = ?", jobID).Updates(updates).Error
		}
	})
}

// UpdateJobState transitions a job's state, optionally recording an error.
func (s *Store) UpdateJobState(ctx context.Context, jobID string, state JobState, lastError string, now time.Time) error {
	updates := map[string]interface{}{
		"state":      state,
		"updated_at": now,
	}
	if lastError != "" {
		updates["last_error"] = lastError
	}
	res := s.db.WithContext(ctx).Model(&Job{}).Where("job_id = ?", jobID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("store: update_job_state: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJob retrieves a single job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	err := s.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get_job: %w", err)
	}
	return &job, nil
}

// ListJobs returns up to limit jobs ordered by updated-at descending.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	var jobs []Job
	err := s.db.WithContext(ctx).Order("updated_at DESC").Limit(limit).Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("store: list_jobs: %w", err)
	}
	return jobs, nil
}

// RecordAttempt appends a job attempt log entry.
func (s *Store) RecordAttempt(ctx context.Context, jobID string, attempt int, startedAt time.Time, finishedAt *time.Time, success bool, errText string) error {
	row := JobAttempt{
		JobID: jobID, Attempt: attempt, StartedAt: startedAt,
		FinishedAt: finishedAt, Success: success, Error: errText,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("store: record_attempt: %w", err)
	}
	return nil
}

// SetSecret stores or replaces an auth secret value.
func (s *Store) SetSecret(ctx context.Context, key, value string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret := AuthSecret{Key: key, Value: value, CreatedAt: now}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "created_at"}),
	}).Create(&secret).Error
	if err != nil {
		return fmt.Errorf("store: set_secret: %w", err)
	}
	return nil
}

// GetSecretSince returns the value and timestamp of key if it was set at or
// after minTS. The "code" secret is consumed (deleted) on a successful read;
// "password" is never consumed here, persisting across re-logins.
func (s *Store) GetSecretSince(ctx context.Context, key string, minTS time.Time) (string, time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var secret AuthSecret
	err := s.db.WithContext(ctx).Where("key = ? AND created_at >= ?", key, minTS).First(&secret).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("store: get_secret_since: %w", err)
	}

	if key == AuthSecretCode {
		if err := s.db.WithContext(ctx).Where("key = ?", key).Delete(&AuthSecret{}).Error; err != nil {
			return "", time.Time{}, false, fmt.Errorf("store: consume code secret: %w", err)
		}
	}
	return secret.Value, secret.CreatedAt, true, nil
}

// DeleteSecret removes an auth secret unconditionally.
func (s *Store) DeleteSecret(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("key = ?", key).Delete(&AuthSecret{}).Error; err != nil {
		return fmt.Errorf("store: delete_secret: %w", err)
	}
	return nil
}

// Vacuum compacts the database file. Content rows are never rewritten; this
// only reclaims free pages left by deletes (secrets, purge).
func (s *Store) Vacuum(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Exec("VACUUM").Error; err != nil {
		return fmt.Errorf("store: vacuum: %w", err)
	}
	return nil
}

// PurgeAll deletes every row from every table, returning per-table counts.
// Used only by the administrative "purge confirm" command.
func (s *Store) PurgeAll(ctx context.Context) (PurgeCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var counts PurgeCounts
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("1 = 1").Delete(&FileRecord{})
		if res.Error != nil {
			return res.Error
		}
		counts.Files = res.RowsAffected

		res = tx.Where("1 = 1").Delete(&SourceMapEntry{})
		if res.Error != nil {
			return res.Error
		}
		counts.SourceMap = res.RowsAffected

		res = tx.Where("1 = 1").Delete(&Job{})
		if res.Error != nil {
			return res.Error
		}
		counts.Jobs = res.RowsAffected

		res = tx.Where("1 = 1").Delete(&JobAttempt{})
		if res.Error != nil {
			return res.Error
		}
		counts.JobAttempts = res.RowsAffected

		res = tx.Where("1 = 1").Delete(&AuthSecret{})
		if res.Error != nil {
			return res.Error
		}
		counts.AuthSecrets = res.RowsAffected

		return nil
	})
	if err != nil {
		return PurgeCounts{}, fmt.Errorf("store: purge_all: %w", err)
	}
	return counts, nil
}

// Ping verifies the underlying connection is alive, used by the health surface.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
