package ingest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const defaultForwardTimeout = 5 * time.Second

// Forwarder POSTs each event payload to <server>/ingest.
type Forwarder struct {
	endpoint   string
	httpClient *http.Client
}

// NewForwarder builds a forwarder. A non-empty token is sent as a bearer
// credential.
func NewForwarder(serverURL, token string, timeout time.Duration) *Forwarder {
	if timeout <= 0 {
		timeout = defaultForwardTimeout
	}
	client := &http.Client{}
	if token != "" {
		client = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
	}
	client.Timeout = timeout
	return &Forwarder{
		endpoint:   strings.TrimRight(serverURL, "/") + "/ingest",
		httpClient: client,
	}
}

// Consume forwards messages until ctx is done or the channel closes. Every
// message is acked; a failed delivery is logged and not retried.
func (f *Forwarder) Consume(ctx context.Context, msgs <-chan *message.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if err := f.Forward(ctx, msg.Payload); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Str("component", "ingest").Str("message_id", msg.UUID).Msg("forward event failed")
			}
			msg.Ack()
		}
	}
}

// Forward sends one JSON payload.
func (f *Forwarder) Forward(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build ingest request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "ingest request")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Errorf("ingest status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
