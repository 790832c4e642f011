package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/rs/zerolog"

	"whisper-transcription-service/internal/config"
	"whisper-transcription-service/internal/models"
	"whisper-transcription-service/internal/observability/logging"
)

// execEngine shells out to a whisper CLI for each transcription. The audio
// buffer is written to a transient file that is removed on every exit path.
type execEngine struct {
	cmd []string
	cfg config.WhisperConfig
	log zerolog.Logger
}

// execSegment mirrors one segment of the CLI's JSON output.
type execSegment struct {
	ID         int     `json:"id"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	AvgLogprob float64 `json:"avg_logprob"`
}

// execOutput mirrors the CLI's JSON output.
type execOutput struct {
	Language string        `json:"language"`
	Duration float64       `json:"duration"`
	Segments []execSegment `json:"segments"`
}

// NewExec creates a subprocess-backed engine from the configured command
// line. Decode parameters are fixed here for the process lifetime.
func NewExec(cfg config.WhisperConfig) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse whisper command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("whisper command is empty")
	}
	return &execEngine{
		cmd: args,
		cfg: cfg,
		log: logging.WithComponent("engine"),
	}, nil
}

func (e *execEngine) Info() Info {
	return Info{
		Name:        "exec",
		Model:       e.cfg.Model,
		Device:      e.cfg.Device,
		ComputeType: e.cfg.ComputeType,
	}
}

func (e *execEngine) Transcribe(ctx context.Context, audioData []byte, language string) (models.TranscriptionResult, error) {
	file, err := os.CreateTemp(os.TempDir(), "whisper_in_*"+DetectSuffix(audioData))
	if err != nil {
		return models.TranscriptionResult{}, fmt.Errorf("create input artifact: %w", err)
	}
	defer func() {
		if err := os.Remove(file.Name()); err != nil {
			e.log.Warn().Err(err).Str("path", file.Name()).Msg("Failed to remove input artifact")
		}
	}()

	if _, err := file.Write(audioData); err != nil {
		file.Close()
		return models.TranscriptionResult{}, fmt.Errorf("write input artifact: %w", err)
	}
	if err := file.Close(); err != nil {
		return models.TranscriptionResult{}, fmt.Errorf("close input artifact: %w", err)
	}

	out, err := e.run(ctx, file.Name(), language)
	if err != nil {
		return models.TranscriptionResult{}, err
	}

	result := models.TranscriptionResult{
		Language: out.Language,
		Duration: out.Duration,
	}
	var texts []string
	for _, seg := range out.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		result.Segments = append(result.Segments, models.Segment{
			ID:         seg.ID,
			Start:      seg.Start,
			End:        seg.End,
			Text:       text,
			Confidence: seg.AvgLogprob,
		})
		texts = append(texts, text)
	}
	result.Text = strings.Join(texts, " ")
	return result, nil
}

func (e *execEngine) run(ctx context.Context, path, language string) (execOutput, error) {
	args := e.buildArgs(path, language)

	command := exec.CommandContext(ctx, e.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return execOutput{}, fmt.Errorf("whisper command failed: %w: %s", err, stderr.String())
	}

	var out execOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return execOutput{}, fmt.Errorf("decode whisper output: %w", err)
	}
	return out, nil
}

func (e *execEngine) buildArgs(path, language string) []string {
	args := append([]string{}, e.cmd[1:]...)
	args = append(args,
		"--model", e.cfg.Model,
		"--device", e.cfg.Device,
		"--compute-type", e.cfg.ComputeType,
		"--beam-size", strconv.Itoa(e.cfg.BeamSize),
		"--output-json",
	)
	if e.cfg.VADFilter {
		args = append(args, "--vad-filter", "--min-silence-ms", strconv.Itoa(e.cfg.MinSilenceMs))
	}
	// Omitting --language asks the engine to auto-detect.
	if language != "" {
		args = append(args, "--language", language)
	}
	return append(args, "--audio", path)
}
