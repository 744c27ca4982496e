// Package notify delivers swap engine events to users.
package notify

import (
	"context"
	"time"

	"github.com/fd1az/swapengine/business/swap/app"
	"github.com/fd1az/swapengine/internal/apperror"
	"github.com/fd1az/swapengine/internal/logger"
	"github.com/fd1az/swapengine/internal/wsconn"
)

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	logger logger.LoggerInterface
}

var _ app.Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log logger.LoggerInterface) *LogNotifier {
	return &LogNotifier{logger: log}
}

func (n *LogNotifier) Notify(ctx context.Context, eventType string, recipients []string, payload any) error {
	n.logger.Info(ctx, "notification", "event", eventType, "recipients", recipients, "payload", payload)
	return nil
}

// Envelope is the message pushed to the notification gateway.
type Envelope struct {
	Type       string    `json:"type"`
	Recipients []string  `json:"recipients"`
	Payload    any       `json:"payload"`
	SentAt     time.Time `json:"sent_at"`
}

// sender is the part of wsconn.Client the notifier uses.
type sender interface {
	SendJSON(ctx context.Context, v any) error
	IsConnected() bool
}

// WebSocketNotifier pushes notifications over a persistent WebSocket.
type WebSocketNotifier struct {
	conn   sender
	client *wsconn.Client
	logger logger.LoggerInterface
	now    func() time.Time
}

var _ app.Notifier = (*WebSocketNotifier)(nil)

// NewWebSocketNotifier creates a notifier for the gateway at url. Call
// Connect before use.
func NewWebSocketNotifier(url string, log logger.LoggerInterface) (*WebSocketNotifier, error) {
	client, err := wsconn.New(wsconn.DefaultConfig(url, "notifications"))
	if err != nil {
		return nil, err
	}
	client.OnStateChange(func(state wsconn.State, err error) {
		if err != nil {
			log.Warn(context.Background(), "notification gateway state changed", "state", state, "error", err)
			return
		}
		log.Info(context.Background(), "notification gateway state changed", "state", state)
	})
	n := newWebSocketNotifier(client, log)
	n.client = client
	return n, nil
}

// Connect opens the gateway connection; it reconnects on its own afterwards.
func (n *WebSocketNotifier) Connect(ctx context.Context) error {
	if n.client == nil {
		return nil
	}
	return n.client.Connect(ctx)
}

// Close closes the gateway connection.
func (n *WebSocketNotifier) Close() error {
	if n.client == nil {
		return nil
	}
	return n.client.Close()
}

func newWebSocketNotifier(conn sender, log logger.LoggerInterface) *WebSocketNotifier {
	return &WebSocketNotifier{conn: conn, logger: log, now: time.Now}
}

func (n *WebSocketNotifier) Notify(ctx context.Context, eventType string, recipients []string, payload any) error {
	if !n.conn.IsConnected() {
		return apperror.New(apperror.CodeExternalServiceError,
			apperror.WithContext("notification gateway"),
			apperror.WithCause(wsconn.ErrNotConnected))
	}

	err := n.conn.SendJSON(ctx, Envelope{
		Type:       eventType,
		Recipients: recipients,
		Payload:    payload,
		SentAt:     n.now().UTC(),
	})
	if err != nil {
		return apperror.External(apperror.CodeExternalServiceError, "notification gateway", err)
	}
	return nil
}
