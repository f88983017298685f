package config

import "time"

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Interviewer: InterviewerConfig{
			Endpoint:       "ws://127.0.0.1:8090/ws/interview",
			ConnectGraceMS: 3000,
		},
		Recognizer: RecognizerConfig{
			Endpoint: "",
		},
		Audio: AudioConfig{
			Input: "default",
		},
		Local: LocalConfig{
			SimulatedLatencyMS: 800,
			BankPath:           "",
		},
		Session: SessionConfig{
			Topic:           "Behavioral",
			Level:           "mid",
			DurationMinutes: 15,
		},
		UserID:   "",
		LogLevel: "info",
	}
}

// ConnectGrace converts the interviewer grace window to a duration.
func (c Config) ConnectGrace() time.Duration {
	return time.Duration(c.Interviewer.ConnectGraceMS) * time.Millisecond
}

// SimulatedLatency converts the offline latency knob to a duration.
func (c Config) SimulatedLatency() time.Duration {
	return time.Duration(c.Local.SimulatedLatencyMS) * time.Millisecond
}
