// Package config resolves, parses, validates, and defaults greenroom configuration.
package config

// Config is the fully materialized runtime configuration.
type Config struct {
	Interviewer InterviewerConfig `yaml:"interviewer"`
	Recognizer  RecognizerConfig  `yaml:"recognizer"`
	Audio       AudioConfig       `yaml:"audio"`
	Local       LocalConfig       `yaml:"local"`
	Session     SessionConfig     `yaml:"session"`
	UserID      string            `yaml:"user_id"`
	LogLevel    string            `yaml:"log_level"`
}

// InterviewerConfig controls the live interviewer websocket connection.
type InterviewerConfig struct {
	Endpoint       string `yaml:"endpoint"`
	ConnectGraceMS int    `yaml:"connect_grace_ms"`
}

// RecognizerConfig controls the streaming speech-to-text connection. An empty
// endpoint disables transcription without failing sessions.
type RecognizerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// AudioConfig controls input-source selection for capture.
type AudioConfig struct {
	Input string `yaml:"input"`
}

// LocalConfig controls the offline interviewer simulation.
type LocalConfig struct {
	SimulatedLatencyMS int    `yaml:"simulated_latency_ms"`
	BankPath           string `yaml:"bank_path"`
}

// SessionConfig holds per-session defaults overridable from the command line.
type SessionConfig struct {
	Topic           string `yaml:"topic"`
	Level           string `yaml:"level"`
	DurationMinutes int    `yaml:"duration_minutes"`
}

// Warning is a non-fatal load/validation message.
type Warning struct {
	Message string
}
