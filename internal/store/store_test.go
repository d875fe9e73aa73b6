package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "teltubby.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCheckByHash_MissAndHit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	result, err := s.CheckByHash(ctx, "deadbeef")
	require.NoError(t, err)
	assert.False(t, result.Hit)

	require.NoError(t, s.Record(ctx, "deadbeef", "teltubby/2026/07/chat/1/photo.jpg", 1024, "photo", ""))

	result, err = s.CheckByHash(ctx, "deadbeef")
	require.NoError(t, err)
	assert.True(t, result.Hit)
	assert.Equal(t, "teltubby/2026/07/chat/1/photo.jpg", result.Key)
}

func TestCheckByUnique_Transitivity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	result, err := s.CheckByUnique(ctx, "uid-1")
	require.NoError(t, err)
	assert.False(t, result.Hit)

	require.NoError(t, s.Record(ctx, "hash-1", "teltubby/key-1", 2048, "document", "uid-1"))

	result, err = s.CheckByUnique(ctx, "uid-1")
	require.NoError(t, err)
	assert.True(t, result.Hit)
	assert.Equal(t, "teltubby/key-1", result.Key)
}

func TestRecord_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Record(ctx, "hash-1", "teltubby/key-1", 10, "photo", "uid-1"))
	require.NoError(t, s.Record(ctx, "hash-1", "teltubby/key-1", 10, "photo", "uid-1"))

	var count int64
	require.NoError(t, s.db.Model(&FileRecord{}).Where("content_hash = ?", "hash-1").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestUpsertJob_InsertThenUpdatePreservesPayloadWhenAbsent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.UpsertJob(ctx, "job-1", 1, 2, 3, JobPending, 4, now, `{"file":"a.mp4"}`))

	job, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobPending, job.State)
	assert.Equal(t, `{"file":"a.mp4"}`, job.PayloadJSON)

	later := now.Add(time.Minute)
	require.NoError(t, s.UpsertJob(ctx, "job-1", 1, 2, 3, JobProcessing, 4, later, ""))

	job, err = s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobProcessing, job.State)
	assert.Equal(t, `{"file":"a.mp4"}`, job.PayloadJSON, "payload must be preserved when absent from the update")
}

func TestUpdateJobState_UnknownJobReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.UpdateJobState(ctx, "missing", JobFailed, "boom", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListJobs_OrderedByUpdatedAtDescending(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Now().UTC()

	require.NoError(t, s.UpsertJob(ctx, "job-a", 1, 1, 1, JobPending, 4, base, ""))
	require.NoError(t, s.UpsertJob(ctx, "job-b", 1, 1, 2, JobPending, 4, base.Add(time.Second), ""))
	require.NoError(t, s.UpsertJob(ctx, "job-c", 1, 1, 3, JobPending, 4, base.Add(2*time.Second), ""))

	jobs, err := s.ListJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "job-c", jobs[0].JobID)
	assert.Equal(t, "job-b", jobs[1].JobID)
	assert.Equal(t, "job-a", jobs[2].JobID)
}

func TestSecret_CodeConsumedOnRead(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.SetSecret(ctx, AuthSecretCode, "123456", now))

	value, _, ok, err := s.GetSecretSince(ctx, AuthSecretCode, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "123456", value)

	_, _, ok, err = s.GetSecretSince(ctx, AuthSecretCode, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "code secret must be consumed on read")
}

func TestSecret_PasswordPersistsAcrossReads(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.SetSecret(ctx, AuthSecretPassword, "hunter2", now))

	_, _, ok, err := s.GetSecretSince(ctx, AuthSecretPassword, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	value, _, ok, err := s.GetSecretSince(ctx, AuthSecretPassword, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, ok, "password secret must not be consumed on read")
	assert.Equal(t, "hunter2", value)
}

func TestSecret_StaleValueNotReturned(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	old := time.Now().UTC().Add(-20 * time.Minute)

	require.NoError(t, s.SetSecret(ctx, AuthSecretCode, "000000", old))

	_, _, ok, err := s.GetSecretSince(ctx, AuthSecretCode, old.Add(10*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPurgeAll_RemovesEveryRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.Record(ctx, "hash-1", "key-1", 1, "photo", "uid-1"))
	require.NoError(t, s.UpsertJob(ctx, "job-1", 1, 1, 1, JobPending, 4, now, ""))
	require.NoError(t, s.SetSecret(ctx, AuthSecretCode, "123456", now))

	counts, err := s.PurgeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Files)
	assert.Equal(t, int64(1), counts.SourceMap)
	assert.Equal(t, int64(1), counts.Jobs)
	assert.Equal(t, int64(1), counts.AuthSecrets)

	result, err := s.CheckByHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.False(t, result.Hit)
}

func TestVacuum_DoesNotError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	assert.NoError(t, s.Vacuum(ctx))
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
