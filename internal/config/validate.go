package config

import (
	"fmt"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if endpoint := strings.TrimSpace(cfg.Interviewer.Endpoint); endpoint != "" {
		if !hasWebsocketScheme(endpoint) {
			return nil, fmt.Errorf("interviewer.endpoint must use ws:// or wss://, got %q", endpoint)
		}
	} else {
		warnings = append(warnings, Warning{Message: "interviewer.endpoint is empty; sessions always run offline"})
	}

	if endpoint := strings.TrimSpace(cfg.Recognizer.Endpoint); endpoint != "" && !hasWebsocketScheme(endpoint) {
		return nil, fmt.Errorf("recognizer.endpoint must use ws:// or wss://, got %q", endpoint)
	}

	if cfg.Interviewer.ConnectGraceMS < 0 {
		return nil, fmt.Errorf("interviewer.connect_grace_ms must be >= 0")
	}
	if cfg.Local.SimulatedLatencyMS < 0 {
		return nil, fmt.Errorf("local.simulated_latency_ms must be >= 0")
	}

	if strings.TrimSpace(cfg.Session.Topic) == "" {
		return nil, fmt.Errorf("session.topic must not be empty")
	}
	level := strings.ToLower(strings.TrimSpace(cfg.Session.Level))
	if level != "junior" && level != "mid" && level != "senior" {
		return nil, fmt.Errorf("session.level must be one of: junior, mid, senior")
	}
	if cfg.Session.DurationMinutes <= 0 {
		return nil, fmt.Errorf("session.duration_minutes must be > 0")
	}

	return warnings, nil
}

func hasWebsocketScheme(endpoint string) bool {
	return strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://")
}
