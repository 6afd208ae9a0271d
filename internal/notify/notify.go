// Package notify holds a push channel open against the service's socketIo
// endpoint so watchers can react to drive changes instead of polling blind.
// A subscription request yields a websocket URL; frames on that socket are
// engine.io packets, and any event packet means the drive changed.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	subscriptionPath = "/drive/root/subscriptions/socketIo"

	// Renew this long before the service-reported expiration.
	renewSlack = time.Minute

	// Session cap when the service omits or garbles the expiration.
	defaultSessionTTL = 30 * time.Minute

	reconnectBase      = 1 * time.Second
	reconnectMax       = 60 * time.Second
	reconnectFactor    = 2.0
	jitterFraction     = 0.25
	maxBackoffExponent = 6
)

// engine.io packet prefixes. "4x" packets carry a socket.io frame inside:
// "40" is the namespace connect, "42" an event.
const (
	packetOpen    = "0"
	packetPing    = "2"
	packetPong    = "3"
	packetConnect = "40"
	packetEvent   = "42"
)

// subscription is the service's response to a socketIo subscription request.
type subscription struct {
	ID                 string `json:"id"`
	NotificationURL    string `json:"notificationUrl"`
	ExpirationDateTime string `json:"expirationDateTime"`
}

// doer is the slice of the API client the listener needs: an authenticated
// request against the resolved service endpoint.
type doer interface {
	DoPath(ctx context.Context, method, path string, body []byte) (*http.Response, error)
}

// Listener maintains the notification channel: subscribe, pump the socket,
// resubscribe before expiry, reconnect with backoff on failure.
type Listener struct {
	client     doer
	httpClient *http.Client
	logger     *slog.Logger

	// sleepFunc is replaceable for testing backoff behavior.
	sleepFunc func(ctx context.Context, d time.Duration) error

	pings chan struct{}
}

// NewListener creates a listener. The httpClient is used for the websocket
// dial; nil means http.DefaultClient.
func NewListener(client doer, httpClient *http.Client, logger *slog.Logger) *Listener {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Listener{
		client:     client,
		httpClient: httpClient,
		logger:     logger,
		sleepFunc:  timeSleep,
		pings:      make(chan struct{}, 1),
	}
}

// Pings returns the change signal channel. Signals are coalesced: a burst of
// service events while the consumer is busy collapses into one pending ping.
func (l *Listener) Pings() <-chan struct{} {
	return l.pings
}

// Run keeps the notification channel alive until the context ends. Scheduled
// renewals resubscribe immediately; failures reconnect with backoff.
func (l *Listener) Run(ctx context.Context) error {
	var attempt int

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := l.session(ctx)
		if err == nil {
			// Session closed on schedule for renewal.
			attempt = 0
			continue
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		backoff := calcBackoff(attempt)
		l.logger.Warn("notification channel lost, reconnecting",
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		if sleepErr := l.sleepFunc(ctx, backoff); sleepErr != nil {
			return sleepErr
		}

		if attempt < maxBackoffExponent {
			attempt++
		}
	}
}

// session creates one subscription and pumps its socket until the renewal
// deadline, an error, or the context ends it. A nil return means the session
// closed on schedule and the caller should resubscribe right away.
func (l *Listener) session(ctx context.Context) error {
	sub, err := l.subscribe(ctx)
	if err != nil {
		return err
	}

	deadline := renewalDeadline(sub.ExpirationDateTime, time.Now())
	sessionCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	err = l.pump(sessionCtx, sub.NotificationURL)

	// Hitting the renewal deadline is scheduled maintenance, not a failure.
	if err != nil && sessionCtx.Err() != nil && ctx.Err() == nil {
		l.logger.Debug("notification session expired, renewing")
		return nil
	}

	return err
}

// subscribe asks the service for a push channel. The notification URL is a
// capability URL and is never logged.
func (l *Listener) subscribe(ctx context.Context) (*subscription, error) {
	resp, err := l.client.DoPath(ctx, http.MethodPost, subscriptionPath, nil)
	if err != nil {
		return nil, fmt.Errorf("notify: creating subscription: %w", err)
	}
	defer resp.Body.Close()

	var sub subscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, fmt.Errorf("notify: decoding subscription: %w", err)
	}

	if sub.NotificationURL == "" {
		return nil, errors.New("notify: subscription response missing notificationUrl")
	}

	l.logger.Info("notification subscription created",
		slog.String("id", sub.ID),
		slog.String("expires", sub.ExpirationDateTime),
	)

	return &sub, nil
}

// pump dials the socket and dispatches frames until the context or the
// connection ends.
func (l *Listener) pump(ctx context.Context, socketURL string) error {
	conn, _, err := websocket.Dial(ctx, socketURL, &websocket.DialOptions{
		HTTPClient: l.httpClient,
	})
	if err != nil {
		return fmt.Errorf("notify: dialing notification socket: %w", err)
	}
	defer conn.CloseNow()

	l.logger.Debug("notification socket connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("notify: reading notification socket: %w", err)
		}

		if err := l.handleFrame(ctx, conn, string(data)); err != nil {
			return err
		}
	}
}

// handleFrame interprets one engine.io packet. Event frames signal a change;
// keepalives and the handshake are answered; everything else is ignored.
func (l *Listener) handleFrame(ctx context.Context, conn *websocket.Conn, frame string) error {
	switch {
	case strings.HasPrefix(frame, packetEvent):
		l.logger.Debug("change notification received")
		select {
		case l.pings <- struct{}{}:
		default:
			// Consumer still holds the previous ping; coalesce.
		}
	case strings.HasPrefix(frame, packetPing):
		if err := conn.Write(ctx, websocket.MessageText, []byte(packetPong)); err != nil {
			return fmt.Errorf("notify: answering keepalive: %w", err)
		}
	case strings.HasPrefix(frame, packetOpen):
		// Handshake: join the default namespace.
		if err := conn.Write(ctx, websocket.MessageText, []byte(packetConnect)); err != nil {
			return fmt.Errorf("notify: joining namespace: %w", err)
		}
	default:
		l.logger.Debug("ignoring socket frame", slog.Int("length", len(frame)))
	}

	return nil
}

// renewalDeadline picks when to drop a session and resubscribe: renewSlack
// before the reported expiration, or defaultSessionTTL out when the service
// omits or garbles the timestamp.
func renewalDeadline(expiration string, now time.Time) time.Time {
	exp, err := time.Parse(time.RFC3339, expiration)
	if err != nil || exp.Before(now.Add(2*renewSlack)) {
		return now.Add(defaultSessionTTL)
	}

	return exp.Add(-renewSlack)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func calcBackoff(attempt int) time.Duration {
	backoff := float64(reconnectBase) * math.Pow(reconnectFactor, float64(attempt))
	if backoff > float64(reconnectMax) {
		backoff = float64(reconnectMax)
	}

	// Apply ±25% jitter.
	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Listener.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
