package transport

import (
	"context"
	"errors"
	"io"
)

// MockChatClient is an in-memory ChatClient double for tests.
type MockChatClient struct {
	Content      map[string][]byte // keyed by MediaItem.SourceUniqueID
	TooBigIDs    map[string]bool
	AcquireErr   error
	GetMeErr     error
	SentMessages []string
}

func NewMockChatClient() *MockChatClient {
	return &MockChatClient{
		Content:   make(map[string][]byte),
		TooBigIDs: make(map[string]bool),
	}
}

func (m *MockChatClient) Acquire(ctx context.Context, item MediaItem) (io.ReadCloser, error) {
	if m.AcquireErr != nil {
		return nil, m.AcquireErr
	}
	data, ok := m.Content[item.SourceUniqueID]
	if !ok {
		return nil, errors.New("mock transport: no content registered for " + item.SourceUniqueID)
	}
	return io.NopCloser(newBytesReader(data)), nil
}

func (m *MockChatClient) TooBig(item MediaItem) bool {
	return m.TooBigIDs[item.SourceUniqueID]
}

func (m *MockChatClient) SendMessage(ctx context.Context, chatID int64, text string) error {
	m.SentMessages = append(m.SentMessages, text)
	return nil
}

func (m *MockChatClient) GetMe(ctx context.Context) error {
	return m.GetMeErr
}

// MockAltTransportClient is an in-memory AltTransportClient double.
type MockAltTransportClient struct {
	Content        map[int64][]byte // keyed by messageID
	GetMeErr       error
	AcquireErr     error
	LoginErr       error
	LoginNeedsPass bool
	LoginPassErr   error
}

func NewMockAltTransportClient() *MockAltTransportClient {
	return &MockAltTransportClient{Content: make(map[int64][]byte)}
}

func (m *MockAltTransportClient) GetMe(ctx context.Context) error {
	return m.GetMeErr
}

func (m *MockAltTransportClient) AcquireByMessage(ctx context.Context, chatID, messageID int64, destPath string, progress AcquireProgress) (int64, error) {
	if m.AcquireErr != nil {
		return 0, m.AcquireErr
	}
	data, ok := m.Content[messageID]
	if !ok {
		return 0, errors.New("mock alt transport: no content registered for message")
	}
	if progress != nil {
		progress(int64(len(data)), int64(len(data)))
	}
	return writeFile(destPath, data)
}

func (m *MockAltTransportClient) Login(ctx context.Context, code string) (bool, error) {
	if m.LoginErr != nil {
		return false, m.LoginErr
	}
	return m.LoginNeedsPass, nil
}

func (m *MockAltTransportClient) LoginPassword(ctx context.Context, password string) error {
	return m.LoginPassErr
}
