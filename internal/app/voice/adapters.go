package voice

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/exec"
)

// LineRecognizer treats every non-empty line of r as a finalized utterance.
// It is the terminal stand-in for a microphone; a blocked read is only
// noticed as cancelled once the next line arrives.
type LineRecognizer struct {
	r io.Reader
}

func NewLineRecognizer(r io.Reader) *LineRecognizer {
	return &LineRecognizer{r: r}
}

func (l *LineRecognizer) Listen(ctx context.Context, fn func(Transcript)) error {
	sc := bufio.NewScanner(l.r)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if line := sc.Text(); line != "" {
			fn(Transcript{Text: line, Final: true})
		}
	}
	return sc.Err()
}

// CommandSynthesizer speaks through a platform TTS binary such as espeak.
// The text is passed as the last argument.
type CommandSynthesizer struct {
	Command string
	Args    []string
}

func NewCommandSynthesizer(command string, args ...string) *CommandSynthesizer {
	if command == "" {
		command = "espeak"
	}
	return &CommandSynthesizer{Command: command, Args: args}
}

func (c *CommandSynthesizer) Speak(ctx context.Context, text string) error {
	path, err := exec.LookPath(c.Command)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return ErrUnsupported
		}
		return err
	}

	args := append(append([]string(nil), c.Args...), text)
	if err := exec.CommandContext(ctx, path, args...).Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}
