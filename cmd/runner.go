package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/rehearse/internal/services"
	"github.com/desertthunder/rehearse/internal/shared"
	"github.com/desertthunder/rehearse/internal/tasks"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	logger     *log.Logger
	output     io.Writer
	input      io.Reader
	reader     *bufio.Reader

	api     *services.APIService
	engine  *tasks.Engine
	feed    services.ChangeFeed
	notices chan tasks.Notice
	closers []func() error
}

// RunnerOpts contains configuration options for creating a Runner.
//
// Engine and Notices are normally left nil; the runner then builds the engine from Config on first use.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Logger     *log.Logger
	Output     io.Writer
	Input      io.Reader
	API        *services.APIService
	Engine     *tasks.Engine
	Notices    chan tasks.Notice
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Input == nil {
		opts.Input = os.Stdin
	}
	if opts.Notices == nil {
		opts.Notices = make(chan tasks.Notice, 32)
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		logger:     opts.Logger,
		output:     opts.Output,
		input:      opts.Input,
		api:        opts.API,
		engine:     opts.Engine,
		notices:    opts.Notices,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, packagesCommand, voucherCommand, sessionCommand, questionCommand,
		responseCommand, telemetryCommand, cacheCommand, apiCommand, watchCommand, publishCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// SetLogger replaces the runner's logger, e.g. to keep log lines out of the TUI.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
}

// Close releases every connection opened for the engine, newest first.
func (r *Runner) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writeBytes(data []byte) error {
	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}

// report prints the notices queued by the last workflow.
func (r *Runner) report() {
	for {
		select {
		case n := <-r.notices:
			mark := "•"
			if n.Level == "success" {
				mark = "✓"
			}
			r.writePlain("%s %s\n", mark, n.Message)
		default:
			return
		}
	}
}

func (r *Runner) lineReader() *bufio.Reader {
	if r.reader == nil {
		r.reader = bufio.NewReader(r.input)
	}
	return r.reader
}

// readLine prompts and reads one line from the runner's input.
func (r *Runner) readLine(prompt string) (string, error) {
	r.writePlain("%s", prompt)
	line, err := r.lineReader().ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("%w: %s", shared.ErrMissingArgument, strings.TrimSpace(strings.TrimSuffix(prompt, ":")))
	}
	return strings.TrimSpace(line), nil
}

// readSecret prompts without echo when input is a terminal and falls back to [Runner.readLine] otherwise.
func (r *Runner) readSecret(prompt string) (string, error) {
	f, ok := r.input.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return r.readLine(prompt)
	}

	r.writePlain("%s", prompt)
	secret, err := term.ReadPassword(int(f.Fd()))
	r.writePlain("\n")
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(secret), nil
}
