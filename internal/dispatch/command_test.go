package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	queue "github.com/teltubby/teltubby/internal/jobqueue"
	"github.com/teltubby/teltubby/internal/store"
)

func TestHandleCommand_StartAndHelp(t *testing.T) {
	deps := newTestDispatcher(t, []int64{1}, 0)
	u := Update{ChatID: 100, IsPrivateChat: true, SenderID: 1, Text: "start"}

	require.NoError(t, deps.dispatcher.HandleUpdate(context.Background(), u))
	require.Len(t, deps.chat.SentMessages, 1)
	assert.Contains(t, deps.chat.SentMessages[0], "listening")

	u.Text = "help"
	require.NoError(t, deps.dispatcher.HandleUpdate(context.Background(), u))
	assert.Contains(t, deps.chat.SentMessages[1], "Commands:")
}

func TestHandleCommand_ModeReportsConfiguredMode(t *testing.T) {
	deps := newTestDispatcher(t, []int64{1}, 0)
	u := Update{ChatID: 100, IsPrivateChat: true, SenderID: 1, Text: "mode"}

	require.NoError(t, deps.dispatcher.HandleUpdate(context.Background(), u))
	require.Len(t, deps.chat.SentMessages, 1)
	assert.Contains(t, deps.chat.SentMessages[0], "polling")
}

func TestHandleCommand_MTCodeStoresSecret(t *testing.T) {
	deps := newTestDispatcher(t, []int64{1}, 0)
	u := Update{ChatID: 100, IsPrivateChat: true, SenderID: 1, Text: "mtcode 123456"}

	require.NoError(t, deps.dispatcher.HandleUpdate(context.Background(), u))

	value, _, found, err := deps.store.GetSecretSince(context.Background(), store.AuthSecretCode, deps.dispatcher.now().Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "123456", value)
}

func TestHandleCommand_DBMaintRunsVacuum(t *testing.T) {
	deps := newTestDispatcher(t, []int64{1}, 0)
	u := Update{ChatID: 100, IsPrivateChat: true, SenderID: 1, Text: "db_maint"}

	require.NoError(t, deps.dispatcher.HandleUpdate(context.Background(), u))
	require.Len(t, deps.chat.SentMessages, 1)
	assert.Contains(t, deps.chat.SentMessages[0], "complete")
}

func TestHandleCommand_QueueReportsDepth(t *testing.T) {
	deps := newTestDispatcher(t, []int64{1}, 0)
	u := Update{ChatID: 100, IsPrivateChat: true, SenderID: 1, Text: "queue"}

	require.NoError(t, deps.dispatcher.HandleUpdate(context.Background(), u))
	require.Len(t, deps.chat.SentMessages, 1)
	assert.Contains(t, deps.chat.SentMessages[0], "queue depth")
}

func TestHandleCommand_JobsUnknownIDReportsNotFound(t *testing.T) {
	deps := newTestDispatcher(t, []int64{1}, 0)
	u := Update{ChatID: 100, IsPrivateChat: true, SenderID: 1, Text: "jobs nonexistent"}

	require.NoError(t, deps.dispatcher.HandleUpdate(context.Background(), u))
	require.Len(t, deps.chat.SentMessages, 1)
	assert.Contains(t, deps.chat.SentMessages[0], "not found")
}

func TestHandleCommand_RetryRepublishesAndTransitionsState(t *testing.T) {
	deps := newTestDispatcher(t, []int64{1}, 0)

	payload := queue.JobPayload{
		JobID:     queue.NewJobID(),
		UserID:    1,
		ChatID:    100,
		MessageID: 7,
		FileInfo:  queue.FileInfo{FileID: "f1", FileUniqueID: "u1", FileType: "video"},
		JobMetadata: queue.JobMetadata{
			CreatedAt: "2024-01-02T03:04:05Z",
		},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, deps.store.UpsertJob(context.Background(), payload.JobID, payload.UserID, payload.ChatID, payload.MessageID, store.JobFailed, 4, deps.dispatcher.now(), string(body)))

	u := Update{ChatID: 100, IsPrivateChat: true, SenderID: 1, Text: "retry " + payload.JobID}
	require.NoError(t, deps.dispatcher.HandleUpdate(context.Background(), u))

	job, err := deps.store.GetJob(context.Background(), payload.JobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, store.JobRetrying, job.State)
}

func TestHandleCommand_CancelTransitionsJobToCancelled(t *testing.T) {
	deps := newTestDispatcher(t, []int64{1}, 0)
	jobID := queue.NewJobID()
	require.NoError(t, deps.store.UpsertJob(context.Background(), jobID, 1, 100, 7, store.JobPending, 4, deps.dispatcher.now(), "{}"))

	u := Update{ChatID: 100, IsPrivateChat: true, SenderID: 1, Text: "cancel " + jobID}
	require.NoError(t, deps.dispatcher.HandleUpdate(context.Background(), u))

	job, err := deps.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, store.JobCancelled, job.State)
}

func TestHandleCommand_PurgeRequiresConfirmArgument(t *testing.T) {
	deps := newTestDispatcher(t, []int64{1}, 0)
	u := Update{ChatID: 100, IsPrivateChat: true, SenderID: 1, Text: "purge"}

	require.NoError(t, deps.dispatcher.HandleUpdate(context.Background(), u))
	require.Len(t, deps.chat.SentMessages, 1)
	assert.Contains(t, deps.chat.SentMessages[0], "failed")
}

func TestHandleCommand_PurgeConfirmClearsStoreAndBucket(t *testing.T) {
	deps := newTestDispatcher(t, []int64{1}, 0)
	require.NoError(t, deps.store.Record(context.Background(), "hash1", "key1", 10, "image/jpeg", "uid1"))

	u := Update{ChatID: 100, IsPrivateChat: true, SenderID: 1, Text: "purge confirm"}
	require.NoError(t, deps.dispatcher.HandleUpdate(context.Background(), u))
	require.Len(t, deps.chat.SentMessages, 1)
	assert.Contains(t, deps.chat.SentMessages[0], "purged")

	result, err := deps.store.CheckByUnique(context.Background(), "uid1")
	require.NoError(t, err)
	assert.False(t, result.Hit)
}

func TestHandleCommand_UnrecognizedVerbReportsError(t *testing.T) {
	deps := newTestDispatcher(t, []int64{1}, 0)
	u := Update{ChatID: 100, IsPrivateChat: true, SenderID: 1, Text: "bogus"}

	require.NoError(t, deps.dispatcher.HandleUpdate(context.Background(), u))
	require.Len(t, deps.chat.SentMessages, 1)
	assert.Contains(t, deps.chat.SentMessages[0], "unrecognized")
}
