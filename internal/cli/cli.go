package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Command string

const (
	CommandStart   Command = "start"
	CommandAnswer  Command = "answer"
	CommandDone    Command = "done"
	CommandEnd     Command = "end"
	CommandAbort   Command = "abort"
	CommandStatus  Command = "status"
	CommandTopics  Command = "topics"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandStart:   {},
	CommandAnswer:  {},
	CommandDone:    {},
	CommandEnd:     {},
	CommandAbort:   {},
	CommandStatus:  {},
	CommandTopics:  {},
	CommandDevices: {},
	CommandDoctor:  {},
	CommandVersion: {},
	CommandHelp:    {},
}

type Parsed struct {
	Command    Command
	ConfigPath string
	Topic      string
	Level      string
	Duration   int
	UserID     string
	Offline    bool
	ShowHelp   bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	takeValue := func(flag string, args []string, i *int) (string, error) {
		*i++
		if *i >= len(args) {
			return "", fmt.Errorf("%s requires a value", flag)
		}
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--offline":
			parsed.Offline = true
		case "--config":
			value, err := takeValue(arg, args, &i)
			if err != nil {
				return Parsed{}, err
			}
			parsed.ConfigPath = value
		case "--topic":
			value, err := takeValue(arg, args, &i)
			if err != nil {
				return Parsed{}, err
			}
			parsed.Topic = value
		case "--level":
			value, err := takeValue(arg, args, &i)
			if err != nil {
				return Parsed{}, err
			}
			parsed.Level = value
		case "--user":
			value, err := takeValue(arg, args, &i)
			if err != nil {
				return Parsed{}, err
			}
			parsed.UserID = value
		case "--duration":
			value, err := takeValue(arg, args, &i)
			if err != nil {
				return Parsed{}, err
			}
			minutes, err := strconv.Atoi(value)
			if err != nil || minutes <= 0 {
				return Parsed{}, fmt.Errorf("--duration requires a positive minute count, got %q", value)
			}
			parsed.Duration = minutes
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			if i != len(args)-1 {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}
		}
	}

	if err := validateFlags(parsed); err != nil {
		return Parsed{}, err
	}

	return parsed, nil
}

// validateFlags rejects session flags on commands that cannot use them.
func validateFlags(parsed Parsed) error {
	if parsed.Command == CommandStart || parsed.Command == CommandHelp {
		return nil
	}
	if parsed.Topic != "" || parsed.Level != "" || parsed.Duration != 0 || parsed.UserID != "" || parsed.Offline {
		return errors.New("session flags (--topic, --level, --duration, --user, --offline) are only valid with start")
	}
	return nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [flags] <command>

Commands:
  start     Start an interview session (connects to the interviewer, falls back offline)
  answer    Begin recording an answer to the current question
  done      Finish the current answer and submit it
  end       End the session and request the feedback report
  abort     Abort the session without a report
  status    Print current session phase and question
  topics    List available interview topics
  devices   List available audio input devices
  doctor    Run configuration and environment checks
  version   Print version information
  help      Show this help

Flags:
  --config PATH    Config file path (default: $XDG_CONFIG_HOME/greenroom/config.yaml)
  --topic NAME     Interview topic (start only)
  --level LEVEL    Difficulty level: junior, mid, senior (start only)
  --duration MIN   Session duration in minutes (start only)
  --user ID        User identifier sent to the interviewer (start only)
  --offline        Skip the live interviewer and run offline (start only)
  -h, --help       Show help
  --version        Show version
`, binaryName)
}
