package llava

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"SensitiveDet/logger"

	"go.uber.org/zap"
)

const DefaultChatTemplate = "vicuna"

// Config describes how to invoke the multimodal CLI.
type Config struct {
	CLIPath      string        `yaml:"cliPath" validate:"required"`
	ModelPath    string        `yaml:"modelPath" validate:"required"`
	MMProjPath   string        `yaml:"mmprojPath" validate:"required"`
	ChatTemplate string        `yaml:"chatTemplate"`
	Prompt       string        `yaml:"prompt"`
	PromptFile   string        `yaml:"promptFile"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
	ExtraArgs    []string      `yaml:"extraArgs"`
}

// Output is the captured text of one inference run.
type Output struct {
	Text     string
	Lines    []string
	Duration time.Duration
}

// ExitError reports a CLI run that finished with a non-zero status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("inference exited with code %d", e.Code)
}

// Runner executes the CLI and streams its output line by line.
type Runner struct {
	cfg    Config
	OnLine func(line string)
}

// NewRunner resolves the CLI binary and returns a runner that echoes each
// output line to stdout.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.ChatTemplate == "" {
		cfg.ChatTemplate = DefaultChatTemplate
	}
	cli, err := Locate(cfg.CLIPath)
	if err != nil {
		return nil, err
	}
	cfg.CLIPath = cli
	return &Runner{
		cfg: cfg,
		OnLine: func(line string) {
			fmt.Println(line)
		},
	}, nil
}

func (r *Runner) Config() Config {
	return r.cfg
}

// Args builds the CLI argument vector. The prompt is passed as one argument.
func (r *Runner) Args(imagePath, prompt string) []string {
	args := []string{
		"-m", r.cfg.ModelPath,
		"--mmproj", r.cfg.MMProjPath,
		"--image", imagePath,
		"-p", prompt,
		"--chat-template", r.cfg.ChatTemplate,
	}
	return append(args, r.cfg.ExtraArgs...)
}

// Run blocks until the CLI exits. Stderr is merged into stdout; blank lines
// are dropped and the rest are trimmed, passed to OnLine and joined with "\n".
func (r *Runner) Run(ctx context.Context, imagePath, prompt string) (Output, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.cfg.CLIPath, r.Args(imagePath, prompt)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Output{}, err
	}
	cmd.Stderr = cmd.Stdout

	logger.Log().Info("Starting inference",
		zap.String("cli", r.cfg.CLIPath),
		zap.String("model", r.cfg.ModelPath),
		zap.String("image", imagePath))

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Output{}, fmt.Errorf("start %s: %w", r.cfg.CLIPath, err)
	}

	lines, scanErr := r.collect(stdout)
	waitErr := cmd.Wait()
	out := Output{
		Text:     strings.Join(lines, "\n"),
		Lines:    lines,
		Duration: time.Since(start),
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) && exitErr.ExitCode() >= 0 {
			return out, &ExitError{Code: exitErr.ExitCode()}
		}
		if ctx.Err() != nil {
			return out, fmt.Errorf("inference interrupted: %w", ctx.Err())
		}
		return out, fmt.Errorf("wait %s: %w", r.cfg.CLIPath, waitErr)
	}
	if scanErr != nil {
		return out, fmt.Errorf("read inference output: %w", scanErr)
	}

	logger.Log().Info("Inference completed",
		zap.Duration("duration", out.Duration),
		zap.Int("lines", len(lines)))
	return out, nil
}

func (r *Runner) collect(rd io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if r.OnLine != nil {
			r.OnLine(line)
		}
	}
	err := scanner.Err()
	if err != nil {
		// keep draining so the child never blocks on a full pipe
		_, _ = io.Copy(io.Discard, rd)
	}
	return lines, err
}

// ResolvePrompt picks the prompt text: an explicit Prompt, then the
// contents of PromptFile, then DefaultPrompt.
func (c Config) ResolvePrompt() (string, error) {
	if c.Prompt != "" {
		return c.Prompt, nil
	}
	if c.PromptFile != "" {
		b, err := os.ReadFile(c.PromptFile)
		if err != nil {
			return "", fmt.Errorf("read prompt file: %w", err)
		}
		return string(b), nil
	}
	return DefaultPrompt, nil
}
