package notify

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teltubby/teltubby/internal/transport"
)

func TestNotify_SendsToEveryAdminWithSeverityPrefix(t *testing.T) {
	chat := transport.NewMockChatClient()
	n := New(chat, []int64{1, 2, 3}, nil)

	err := n.Critical(context.Background(), "session lost")
	require.NoError(t, err)

	require.Len(t, chat.SentMessages, 3)
	for _, msg := range chat.SentMessages {
		assert.Equal(t, "[CRITICAL] session lost", msg)
	}
}

func TestNotify_ContinuesPastOneAdminFailure(t *testing.T) {
	chat := &countingSendChatClient{}
	n := New(chat, []int64{1, 2, 3}, nil)

	err := n.Warning(context.Background(), "quota near limit")
	assert.Error(t, err)
	assert.Equal(t, 3, chat.calls, "delivery to remaining admins should still be attempted")
}

func TestNotify_NilChatClientIsNoop(t *testing.T) {
	n := New(nil, []int64{1}, nil)
	err := n.Info(context.Background(), "noop")
	assert.NoError(t, err)
}

type countingSendChatClient struct {
	calls int
}

func (c *countingSendChatClient) Acquire(ctx context.Context, item transport.MediaItem) (io.ReadCloser, error) {
	return nil, nil
}

func (c *countingSendChatClient) TooBig(item transport.MediaItem) bool { return false }

func (c *countingSendChatClient) SendMessage(ctx context.Context, chatID int64, text string) error {
	c.calls++
	if chatID == 2 {
		return assertErr("blocked")
	}
	return nil
}

func (c *countingSendChatClient) GetMe(ctx context.Context) error { return nil }

type assertErr string

func (e assertErr) Error() string { return string(e) }
