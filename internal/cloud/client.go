package cloud

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/snapbooth/photobooth-agent/internal/logging"
)

// ErrCloudDisabled is returned by the stub client. The booth treats it as
// "run with a local session id".
var ErrCloudDisabled = errors.New("cloud: disabled")

// Client is the remote session API.
type Client interface {
	CreateSession(ctx context.Context) (string, error)
	UploadMedia(ctx context.Context, sessionID string, mediaType MediaType, filename string, data io.Reader) (*Media, error)
	CompleteSession(ctx context.Context, sessionID string) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	ListSessions(ctx context.Context, page, limit int) (*SessionPage, error)
	Stats(ctx context.Context) (*Stats, error)
}

// StubClient is used when cloud sync is off.
type StubClient struct {
	logger *slog.Logger
}

func NewStubClient(logger *slog.Logger) *StubClient {
	return &StubClient{logger: logging.WithComponent(logging.OrDiscard(logger), "cloud-stub")}
}

func (c *StubClient) CreateSession(ctx context.Context) (string, error) {
	c.logger.Debug("cloud stub: session creation requested")
	return "", ErrCloudDisabled
}

func (c *StubClient) UploadMedia(ctx context.Context, sessionID string, mediaType MediaType, filename string, data io.Reader) (*Media, error) {
	c.logger.Debug("cloud stub: upload requested", "session_id", sessionID, "type", mediaType)
	return nil, ErrCloudDisabled
}

func (c *StubClient) CompleteSession(ctx context.Context, sessionID string) error {
	return ErrCloudDisabled
}

func (c *StubClient) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	return nil, ErrCloudDisabled
}

func (c *StubClient) ListSessions(ctx context.Context, page, limit int) (*SessionPage, error) {
	return nil, ErrCloudDisabled
}

func (c *StubClient) Stats(ctx context.Context) (*Stats, error) {
	return nil, ErrCloudDisabled
}
