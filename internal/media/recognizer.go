package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Recognizer is the speech-to-text capability for one answer turn. Two
// variants exist: a streaming recognizer backed by an ASR service, and a noop
// used when no service is configured. Callers never branch on environment;
// the variant is fixed at construction.
type Recognizer interface {
	Start(ctx context.Context) error
	// Feed streams one PCM chunk into the recognizer.
	Feed(chunk []byte) error
	// Fragments yields finalized transcript fragments in recognition order.
	// Interim hypotheses are discarded. The channel closes when the stream ends.
	Fragments() <-chan string
	// Stop finalizes the stream and releases the connection. Idempotent.
	Stop() error
	Available() bool
}

// NewRecognizerFactory selects the recognizer variant for an ASR endpoint.
// An empty endpoint means transcription is absent: sessions proceed with an
// empty transcript and no error.
func NewRecognizerFactory(endpoint string, logger *slog.Logger) func() Recognizer {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return func() Recognizer { return NoopRecognizer{} }
	}
	return func() Recognizer {
		return &StreamRecognizer{
			endpoint:  endpoint,
			logger:    logger,
			fragments: make(chan string, 16),
			recvDone:  make(chan struct{}),
		}
	}
}

// NoopRecognizer is the capability-absent variant.
type NoopRecognizer struct{}

func (NoopRecognizer) Start(context.Context) error { return nil }
func (NoopRecognizer) Feed([]byte) error           { return nil }
func (NoopRecognizer) Stop() error                 { return nil }
func (NoopRecognizer) Available() bool             { return false }

func (NoopRecognizer) Fragments() <-chan string {
	ch := make(chan string)
	close(ch)
	return ch
}

// asrConfig is the stream-open payload sent before any audio.
type asrConfig struct {
	Type       string `json:"type"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// asrResult is one recognition hypothesis from the service.
type asrResult struct {
	Transcript string `json:"transcript"`
	Final      bool   `json:"final"`
}

// StreamRecognizer streams PCM to an ASR WebSocket endpoint for one answer
// turn and surfaces finalized fragments.
type StreamRecognizer struct {
	endpoint string
	logger   *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	started bool
	stopped bool

	writeMu sync.Mutex

	fragments chan string
	recvDone  chan struct{}
}

func (r *StreamRecognizer) Available() bool { return true }

func (r *StreamRecognizer) Fragments() <-chan string { return r.fragments }

// Start dials the ASR endpoint and sends the stream configuration.
func (r *StreamRecognizer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return errors.New("recognizer already started")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial recognizer %q: %w", r.endpoint, err)
	}

	cfg := asrConfig{Type: "start", Encoding: "linear16", SampleRate: 16000, Channels: 1}
	if err := conn.WriteJSON(cfg); err != nil {
		_ = conn.Close()
		return fmt.Errorf("send recognizer config: %w", err)
	}

	r.conn = conn
	r.started = true
	go r.recvLoop(conn)
	return nil
}

// recvLoop collects finalized fragments until the stream ends.
func (r *StreamRecognizer) recvLoop(conn *websocket.Conn) {
	defer close(r.recvDone)
	defer close(r.fragments)

	for {
		var result asrResult
		if err := conn.ReadJSON(&result); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logWarn("recognizer stream ended", "error", err.Error())
			}
			return
		}
		if !result.Final {
			continue
		}
		if fragment := cleanFragment(result.Transcript); fragment != "" {
			r.fragments <- fragment
		}
	}
}

// Feed streams one PCM chunk. Chunks after Stop are dropped silently.
func (r *StreamRecognizer) Feed(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	r.mu.Lock()
	conn := r.conn
	usable := r.started && !r.stopped
	r.mu.Unlock()

	if !usable || conn == nil {
		return nil
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, chunk)
}

// Stop finalizes the stream, drains trailing finals, and closes the
// connection. Safe to call repeatedly and before Start.
func (r *StreamRecognizer) Stop() error {
	r.mu.Lock()
	if r.stopped || !r.started {
		r.stopped = true
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	conn := r.conn
	r.mu.Unlock()

	r.writeMu.Lock()
	_ = conn.WriteJSON(asrConfig{Type: "finalize"})
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(2*time.Second),
	)
	r.writeMu.Unlock()

	select {
	case <-r.recvDone:
	case <-time.After(3 * time.Second):
		r.logWarn("recognizer finalize timed out")
	}

	return conn.Close()
}

func (r *StreamRecognizer) logWarn(message string, args ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Warn(message, args...)
}

// cleanFragment normalizes fragment whitespace.
func cleanFragment(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	return strings.Join(strings.Fields(raw), " ")
}
