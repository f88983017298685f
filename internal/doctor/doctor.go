// Package doctor runs readiness diagnostics for config, question banks,
// audio capture, and the remote interviewer endpoint.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/trowell/greenroom/internal/config"
	"github.com/trowell/greenroom/internal/media"
	"github.com/trowell/greenroom/internal/question"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	checks := []Check{}

	checks = append(checks, Check{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfg.Path),
	})

	checks = append(checks, checkBank(cfg.Config))
	checks = append(checks, checkAudioSelection(ctx, cfg.Config))
	checks = append(checks, checkInterviewerReady(cfg.Config))
	checks = append(checks, checkRecognizer(cfg.Config))

	return Report{Checks: checks}
}

// checkBank loads the effective question bank and verifies the configured
// default topic resolves to prompts.
func checkBank(cfg config.Config) Check {
	bank := question.Defaults()
	if path := strings.TrimSpace(cfg.Local.BankPath); path != "" {
		loaded, err := question.LoadFile(path)
		if err != nil {
			return Check{Name: "question.bank", Pass: false, Message: err.Error()}
		}
		bank = loaded
	}

	prompts, err := bank.Prompts(cfg.Session.Topic)
	if err != nil {
		return Check{Name: "question.bank", Pass: false, Message: err.Error()}
	}

	message := fmt.Sprintf("%d topics, %d prompts for %q", len(bank.Topics()), len(prompts), cfg.Session.Topic)
	if !bank.Has(cfg.Session.Topic) {
		message += fmt.Sprintf(" (unknown topic, falls back to %q)", question.DefaultTopic)
	}
	return Check{Name: "question.bank", Pass: true, Message: message}
}

// checkAudioSelection runs live device selection to surface capture issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	device, err := media.SelectDevice(ctx, cfg.Audio.Input)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	return Check{Name: "audio.device", Pass: true, Message: fmt.Sprintf("selected %q", device.ID)}
}

// checkInterviewerReady probes the interviewer host over HTTP. The health URL
// is derived from the websocket endpoint: same host, /healthz.
func checkInterviewerReady(cfg config.Config) Check {
	endpoint := strings.TrimSpace(cfg.Interviewer.Endpoint)
	if endpoint == "" {
		return Check{Name: "interviewer.ready", Pass: true, Message: "no endpoint configured; sessions run offline"}
	}

	healthURL, err := healthFromWebsocket(endpoint)
	if err != nil {
		return Check{Name: "interviewer.ready", Pass: false, Message: err.Error()}
	}

	client := http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(healthURL)
	if err != nil {
		return Check{Name: "interviewer.ready", Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Check{Name: "interviewer.ready", Pass: false, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, healthURL)}
	}
	return Check{Name: "interviewer.ready", Pass: true, Message: fmt.Sprintf("ready at %s", healthURL)}
}

// checkRecognizer reports the transcription posture; absence is not a failure.
func checkRecognizer(cfg config.Config) Check {
	endpoint := strings.TrimSpace(cfg.Recognizer.Endpoint)
	if endpoint == "" {
		return Check{Name: "recognizer", Pass: true, Message: "no endpoint configured; transcription disabled"}
	}
	return Check{Name: "recognizer", Pass: true, Message: fmt.Sprintf("configured at %s", endpoint)}
}

// healthFromWebsocket maps ws(s):// endpoints onto their http(s) health URL.
func healthFromWebsocket(endpoint string) (string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid interviewer endpoint %q: %w", endpoint, err)
	}

	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	default:
		return "", fmt.Errorf("interviewer endpoint %q is not a websocket URL", endpoint)
	}

	parsed.Path = "/healthz"
	parsed.RawQuery = ""
	return parsed.String(), nil
}
