package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T) (*Adapter, *MockAMQPChannel) {
	t.Helper()
	ch := &MockAMQPChannel{}
	a, err := NewWithChannel(ch, Config{})
	require.NoError(t, err)
	return a, ch
}

func validPayload() JobPayload {
	return JobPayload{
		JobID:  NewJobID(),
		UserID: 1,
		ChatID: 100,
		FileInfo: FileInfo{
			FileID:       "f1",
			FileUniqueID: "u1",
			FileType:     "video",
		},
		JobMetadata: JobMetadata{
			CreatedAt:  "2024-01-02T03:04:05Z",
			MaxRetries: 3,
		},
	}
}

func TestNewWithChannel_DeclaresFullTopology(t *testing.T) {
	_, ch := newTestAdapter(t)

	assert.True(t, ch.ExchangeDeclareCalled)
	assert.True(t, ch.QueueDeclareCalled)
	assert.True(t, ch.QueueBindCalled)
	assert.Equal(t, JobsQueue, ch.LastBoundQueue)
	assert.Equal(t, JobsExchange, ch.LastBoundExchange)
}

func TestPublish_DefaultsPriority(t *testing.T) {
	a, ch := newTestAdapter(t)

	err := a.Publish(validPayload(), -1)
	require.NoError(t, err)
	require.Len(t, ch.PublishedMessages, 1)

	msg := ch.PublishedMessages[0]
	assert.Equal(t, uint8(DefaultPriority), msg.Priority)
	assert.Equal(t, JobContentType, msg.ContentType)
	assert.Equal(t, JobTypeTag, msg.Type)
	assert.Equal(t, JobSchema, msg.Headers["schema"])
}

func TestPublish_RejectsMissingFileInfo(t *testing.T) {
	a, _ := newTestAdapter(t)

	payload := validPayload()
	payload.FileInfo.FileID = ""

	err := a.Publish(payload, 4)
	assert.Error(t, err)
}

func TestPublish_RejectsMissingCreatedAt(t *testing.T) {
	a, _ := newTestAdapter(t)

	payload := validPayload()
	payload.JobMetadata.CreatedAt = ""

	err := a.Publish(payload, 4)
	assert.Error(t, err)
}

func TestDepth_ReflectsPublishedCount(t *testing.T) {
	a, _ := newTestAdapter(t)

	require.NoError(t, a.Publish(validPayload(), 4))
	require.NoError(t, a.Publish(validPayload(), 4))

	depth, err := a.Depth()
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}

func TestPurge_DrainsBothQueues(t *testing.T) {
	a, ch := newTestAdapter(t)

	require.NoError(t, a.Publish(validPayload(), 4))
	ch.Queues[DLQQueue] = append(ch.Queues[DLQQueue], ch.PublishedMessages[0])

	total, err := a.Purge()
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	depth, err := a.Depth()
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestNewJobID_ProducesDistinctValues(t *testing.T) {
	a := NewJobID()
	b := NewJobID()
	assert.NotEqual(t, a, b)
}
