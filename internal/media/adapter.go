package media

import (
	"context"
	"log/slog"
	"sync"
)

// Adapter owns the microphone capture and the per-turn recognizer, exposing
// the capture lifecycle the session coordinator drives. The coordinator never
// touches hardware handles; it sees only this surface and the fragment stream.
type Adapter struct {
	inputPreference string
	newRecognizer   func() Recognizer
	logger          *slog.Logger

	mu           sync.Mutex
	capture      *Capture
	recognizer   Recognizer
	transcribing bool

	fragments chan string
}

// NewAdapter wires an adapter with the recognizer variant fixed up front.
func NewAdapter(inputPreference string, newRecognizer func() Recognizer, logger *slog.Logger) *Adapter {
	if newRecognizer == nil {
		newRecognizer = func() Recognizer { return NoopRecognizer{} }
	}
	return &Adapter{
		inputPreference: inputPreference,
		newRecognizer:   newRecognizer,
		logger:          logger,
		fragments:       make(chan string, 32),
	}
}

// Fragments yields finalized transcript fragments across all answer turns.
func (a *Adapter) Fragments() <-chan string { return a.fragments }

// TranscriptionAvailable reports whether the recognizer capability exists.
func (a *Adapter) TranscriptionAvailable() bool {
	return a.newRecognizer().Available()
}

// StartCapture acquires the microphone. Failure is recoverable: the session
// continues without captured audio and the caller reports it once.
func (a *Adapter) StartCapture(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.capture != nil {
		return nil
	}

	device, err := SelectDevice(ctx, a.inputPreference)
	if err != nil {
		return joinMediaErr(err)
	}

	capture, err := StartCapture(ctx, device)
	if err != nil {
		return err
	}

	a.capture = capture
	go a.pump(capture)
	return nil
}

// pump forwards captured PCM into the active recognizer, dropping chunks when
// no answer turn is being transcribed.
func (a *Adapter) pump(capture *Capture) {
	for chunk := range capture.Chunks() {
		a.mu.Lock()
		recognizer := a.recognizer
		transcribing := a.transcribing
		a.mu.Unlock()

		if !transcribing || recognizer == nil {
			continue
		}
		if err := recognizer.Feed(chunk); err != nil {
			a.logWarn("recognizer feed failed", "error", err.Error())
		}
	}
}

// StopCapture releases the microphone. Idempotent; also ends any active
// transcription turn.
func (a *Adapter) StopCapture() {
	a.StopTranscription()

	a.mu.Lock()
	capture := a.capture
	a.capture = nil
	a.mu.Unlock()

	if capture != nil {
		_ = capture.Stop()
	}
}

// StartTranscription opens a fresh recognizer stream for one answer turn.
// With no recognizer capability this is a silent no-op and the transcript
// stays empty.
func (a *Adapter) StartTranscription(ctx context.Context) error {
	a.mu.Lock()
	if a.transcribing {
		a.mu.Unlock()
		return nil
	}
	if a.capture == nil {
		// Nothing to feed without a microphone.
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	recognizer := a.newRecognizer()
	if !recognizer.Available() {
		return nil
	}
	if err := recognizer.Start(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	a.recognizer = recognizer
	a.transcribing = true
	a.mu.Unlock()

	go a.forward(recognizer)
	return nil
}

// forward relays one turn's finalized fragments to the shared stream, dropping
// with a log line if the consumer stalls.
func (a *Adapter) forward(recognizer Recognizer) {
	for fragment := range recognizer.Fragments() {
		select {
		case a.fragments <- fragment:
		default:
			a.logWarn("transcript fragment dropped, consumer stalled", "length", len(fragment))
		}
	}
}

// StopTranscription finalizes the current recognizer turn. Idempotent.
func (a *Adapter) StopTranscription() {
	a.mu.Lock()
	recognizer := a.recognizer
	a.recognizer = nil
	a.transcribing = false
	a.mu.Unlock()

	if recognizer != nil {
		_ = recognizer.Stop()
	}
}

func (a *Adapter) logWarn(message string, args ...any) {
	if a.logger == nil {
		return
	}
	a.logger.Warn(message, args...)
}

// joinMediaErr tags selection failures with the recoverable media error.
func joinMediaErr(err error) error {
	if err == nil {
		return nil
	}
	return &mediaErr{cause: err}
}

type mediaErr struct {
	cause error
}

func (e *mediaErr) Error() string { return ErrMediaUnavailable.Error() + ": " + e.cause.Error() }

func (e *mediaErr) Is(target error) bool { return target == ErrMediaUnavailable }

func (e *mediaErr) Unwrap() error { return e.cause }
