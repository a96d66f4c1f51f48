package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

type execSynth struct {
	cmd []string
}

type execRequest struct {
	Text       string `json:"text"`
	SpeakerWAV string `json:"speaker_wav"`
	Language   string `json:"language"`
	OutputPath string `json:"output_path"`
}

// NewExecSynth runs an external command per call. The request is written to
// the command's stdin as JSON and also passed as flags; the command must
// write a WAV file to --output and exit zero.
func NewExecSynth(command string) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command empty")
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("engine command %q: %w", args[0], err)
	}
	return &execSynth{cmd: args}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req Request) error {
	payload, err := json.Marshal(execRequest{
		Text:       req.Text,
		SpeakerWAV: req.ReferencePath,
		Language:   req.Language,
		OutputPath: req.OutputPath,
	})
	if err != nil {
		return err
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	args = append(args,
		"--speaker-wav", req.ReferencePath,
		"--language", req.Language,
		"--output", req.OutputPath,
	)

	command := exec.CommandContext(ctx, base, args...)
	command.Stdin = bytes.NewReader(payload)
	var stderr bytes.Buffer
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return fmt.Errorf("engine command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	info, err := os.Stat(req.OutputPath)
	if err != nil {
		return fmt.Errorf("engine produced no output: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("engine produced empty output at %s", req.OutputPath)
	}
	return nil
}
