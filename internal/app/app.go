// Package app wires configuration, logging, media, transport, and the
// session controller behind the command-line surface.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/trowell/greenroom/internal/cli"
	"github.com/trowell/greenroom/internal/config"
	"github.com/trowell/greenroom/internal/doctor"
	"github.com/trowell/greenroom/internal/ipc"
	"github.com/trowell/greenroom/internal/logging"
	"github.com/trowell/greenroom/internal/media"
	"github.com/trowell/greenroom/internal/question"
	"github.com/trowell/greenroom/internal/session"
	"github.com/trowell/greenroom/internal/transport"
	"github.com/trowell/greenroom/internal/version"
)

const forwardTimeout = 220 * time.Millisecond

type Runner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdin: os.Stdin, Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("greenroom"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("greenroom"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		fmt.Fprintf(r.Stderr, "warning: %s\n", w.Message)
	}

	logRuntime, err := logging.New(cfgLoaded.Config.LogLevel)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandStart:
		return r.commandStart(ctx, parsed, cfgLoaded.Config, logger)
	case cli.CommandAnswer:
		return r.forwardOrFail(ctx, ipc.CommandAnswer)
	case cli.CommandDone:
		return r.forwardOrFail(ctx, ipc.CommandDone)
	case cli.CommandEnd:
		return r.forwardOrFail(ctx, ipc.CommandEnd)
	case cli.CommandAbort:
		return r.forwardOrFail(ctx, ipc.CommandAbort)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandTopics:
		return r.commandTopics(cfgLoaded.Config)
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

// commandStart owns the session socket and runs one interview end to end.
// answer/done/end/abort arrive over IPC from other invocations or as lines on
// the owning terminal's stdin.
func (r Runner) commandStart(ctx context.Context, parsed cli.Parsed, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			fmt.Fprintln(r.Stderr, "error: a greenroom session is already running")
			return 1
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	params := sessionParams(parsed, cfg)
	bank, err := loadBank(cfg)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	var newLive session.SourceFactory
	endpoint := strings.TrimSpace(cfg.Interviewer.Endpoint)
	if endpoint != "" && !parsed.Offline {
		client := transport.NewClient(endpoint, logger)
		defer client.Disconnect()
		newLive = func() question.Source {
			return question.NewRemoteSource(client, logger)
		}
	}
	newLocal := func() question.Source {
		return question.NewLocalSource(bank, cfg.SimulatedLatency(), logger)
	}

	adapter := media.NewAdapter(
		cfg.Audio.Input,
		media.NewRecognizerFactory(cfg.Recognizer.Endpoint, logger),
		logger,
	)

	controller := session.NewController(logger, adapter, newLive, newLocal, cfg.ConnectGrace())

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(serverCtx, listener, controller)
	}()

	fmt.Fprintf(r.Stdout, "session %s started (topic=%q level=%s duration=%dm)\n",
		params.SessionID, params.Topic, params.Level, params.DurationMinutes)

	watchCancel := r.watchQuestions(serverCtx, controller)
	r.watchStdin(serverCtx, controller)
	result := controller.Run(ctx, params)
	watchCancel()
	serverCancel()
	if serverErr := <-serverErrCh; serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}

	logSessionResult(logger, result)
	return r.printResult(result)
}

// watchQuestions prints each new interviewer question as it arrives.
func (r Runner) watchQuestions(ctx context.Context, controller *session.Controller) func() {
	watchCtx, cancel := context.WithCancel(ctx)
	go func() {
		var last string
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
				snapshot := controller.Snapshot()
				if snapshot.Question != "" && snapshot.Question != last {
					last = snapshot.Question
					fmt.Fprintf(r.Stdout, "\nQ: %s\n", snapshot.Question)
				}
			}
		}
	}()
	return cancel
}

// watchStdin maps lines typed in the owning terminal onto the same session
// commands a second invocation reaches over IPC.
func (r Runner) watchStdin(ctx context.Context, controller *session.Controller) {
	if r.Stdin == nil {
		return
	}
	go func() {
		scanner := bufio.NewScanner(r.Stdin)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			command := strings.TrimSpace(scanner.Text())
			if command == "" {
				continue
			}

			resp := controller.Handle(ctx, ipc.Request{Command: command})
			if !resp.OK {
				fmt.Fprintf(r.Stderr, "error: %s\n", resp.Error)
				continue
			}
			if command == ipc.CommandStatus {
				fmt.Fprintln(r.Stdout, resp.Phase)
				if resp.Question != "" {
					fmt.Fprintf(r.Stdout, "Q: %s\n", resp.Question)
				}
				continue
			}
			if resp.Message != "" {
				fmt.Fprintln(r.Stdout, resp.Message)
			}
		}
	}()
}

func (r Runner) printResult(result session.Result) int {
	for _, notice := range result.Notices {
		fmt.Fprintf(r.Stderr, "notice: %s\n", notice)
	}

	if result.Aborted {
		fmt.Fprintln(r.Stdout, "session aborted")
		return 0
	}
	if result.Err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", result.Err)
		return 1
	}
	if result.Report == nil {
		fmt.Fprintln(r.Stdout, "session ended without a report")
		return 1
	}

	report := result.Report
	fmt.Fprintf(r.Stdout, "\nScore: %d/100 (%s)\n", report.Score, result.Provenance)
	fmt.Fprintf(r.Stdout, "Feedback: %s\n", report.Feedback)
	for _, strength := range report.Strengths {
		fmt.Fprintf(r.Stdout, "  + %s\n", strength)
	}
	for _, weakness := range report.Weaknesses {
		fmt.Fprintf(r.Stdout, "  - %s\n", weakness)
	}
	if transcript := strings.TrimSpace(result.Transcript); transcript != "" {
		fmt.Fprintf(r.Stdout, "Transcript: %s\n", transcript)
	}
	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStatus)
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		phase := resp.Phase
		if phase == "" {
			phase = "idle"
		}
		fmt.Fprintln(r.Stdout, phase)
		if resp.Question != "" {
			fmt.Fprintf(r.Stdout, "Q: %s\n", resp.Question)
		}
		if resp.Elapsed > 0 {
			fmt.Fprintf(r.Stdout, "elapsed: %ds\n", resp.Elapsed)
		}
		return 0
	}

	fmt.Fprintln(r.Stdout, "idle")
	return 0
}

func (r Runner) commandTopics(cfg config.Config) int {
	bank, err := loadBank(cfg)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	for _, topic := range bank.Topics() {
		fmt.Fprintln(r.Stdout, topic)
	}
	return 0
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := media.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		availability := "yes"
		if !device.Available {
			availability = "no"
		}
		muted := "no"
		if device.Muted {
			muted = "yes"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			availability,
			muted,
		)
	}
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, command string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintln(r.Stderr, "error: no active greenroom session")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// sessionParams merges config defaults with start flags.
func sessionParams(parsed cli.Parsed, cfg config.Config) question.Params {
	params := question.Params{
		SessionID:       uuid.NewString(),
		Topic:           cfg.Session.Topic,
		Level:           cfg.Session.Level,
		DurationMinutes: cfg.Session.DurationMinutes,
		UserID:          cfg.UserID,
	}
	if parsed.Topic != "" {
		params.Topic = parsed.Topic
	}
	if parsed.Level != "" {
		params.Level = strings.ToLower(parsed.Level)
	}
	if parsed.Duration > 0 {
		params.DurationMinutes = parsed.Duration
	}
	if parsed.UserID != "" {
		params.UserID = parsed.UserID
	}
	return params
}

func loadBank(cfg config.Config) (*question.Bank, error) {
	if path := strings.TrimSpace(cfg.Local.BankPath); path != "" {
		return question.LoadFile(path)
	}
	return question.Defaults(), nil
}

func logSessionResult(logger *slog.Logger, result session.Result) {
	if logger == nil {
		return
	}
	fields := []any{
		"phase", string(result.Phase),
		"session_id", result.Params.SessionID,
		"topic", result.Params.Topic,
		"provenance", result.Provenance,
		"aborted", result.Aborted,
		"started_at", result.StartedAt.Format(time.RFC3339Nano),
		"finished_at", result.FinishedAt.Format(time.RFC3339Nano),
		"elapsed_s", result.ElapsedSeconds,
		"transcript_length", len(result.Transcript),
		"notices", len(result.Notices),
	}

	if result.Err != nil {
		logger.Error("session failed", append(fields, "error", result.Err.Error())...)
		return
	}
	logger.Info("session complete", fields...)
}

func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, forwardTimeout)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if isSocketMissing(err) {
		return ipc.Response{}, false, nil
	}
	if isConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}

func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
