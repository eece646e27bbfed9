// Package kokoro wraps the local Kokoro TTS runner as a synthesis engine.
//
// The engine is a black box from the pipeline's point of view: text in, PCM
// samples out. It is constructed from two local asset files (the ONNX model
// weights and the voices file) and shells out to the kokoro runner binary for
// the actual inference, reading raw 16-bit mono PCM from its stdout.
package kokoro

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Default asset and runner names, matching the published model files.
const (
	DefaultModelFile  = "kokoro-v0_19.onnx"
	DefaultVoicesFile = "voices.json"
	DefaultBinary     = "kokoro"

	defaultSampleRate = 24000
)

// Sentinel errors for configuration failures.
var (
	ErrMissingAssets    = errors.New("kokoro model assets not found")
	ErrUnknownProvider  = errors.New("unknown inference provider")
	ErrUnknownVoice     = errors.New("unknown voice")
	ErrEmptySynthesis   = errors.New("synthesis produced no audio")
	errNoVoicesDeclared = errors.New("voices file declares no voices")
)

// assetGuidance is the remediation text shown when the model files are absent.
const assetGuidance = "download them with:\n" +
	"  wget https://github.com/thewh1teagle/kokoro-onnx/releases/download/model-files/kokoro-v0_19.onnx\n" +
	"  wget https://github.com/thewh1teagle/kokoro-onnx/releases/download/model-files/voices.json"

// Config holds engine construction options.
type Config struct {
	// Binary is the kokoro runner executable. Defaults to "kokoro" on PATH.
	Binary string

	// ModelPath is the ONNX weights file. Defaults to kokoro-v0_19.onnx in
	// the working directory.
	ModelPath string

	// VoicesPath is the voice embedding file. Defaults to voices.json.
	VoicesPath string

	// SampleRate of the PCM the runner emits. Defaults to 24000 Hz.
	SampleRate int

	// Timeout bounds a single synthesis call. Zero means no bound beyond
	// the caller's context; chapters can legitimately take minutes.
	Timeout time.Duration
}

// Engine synthesizes speech by invoking the kokoro runner per request. It is a
// single-consumer resource: calls are expected to be strictly sequential.
type Engine struct {
	binary     string
	modelPath  string
	voicesPath string
	sampleRate int
	timeout    time.Duration
	voices     []string
	providers  []string

	runner commandRunner
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args []string, stdin io.Reader) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return out.Bytes(), errBuf.Bytes(), err
}

// New validates the asset files and builds an engine. A missing model or
// voices file is a fatal configuration error carrying download instructions;
// it is detected here, before any document is opened.
func New(cfg Config) (*Engine, error) {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.ModelPath == "" {
		cfg.ModelPath = DefaultModelFile
	}
	if cfg.VoicesPath == "" {
		cfg.VoicesPath = DefaultVoicesFile
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = defaultSampleRate
	}

	var missing []string
	for _, p := range []string{cfg.ModelPath, cfg.VoicesPath} {
		if _, err := os.Stat(p); err != nil {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s must be present; %s",
			ErrMissingAssets, strings.Join(missing, " and "), assetGuidance)
	}

	voices, err := loadVoices(cfg.VoicesPath)
	if err != nil {
		return nil, err
	}

	return &Engine{
		binary:     cfg.Binary,
		modelPath:  cfg.ModelPath,
		voicesPath: cfg.VoicesPath,
		sampleRate: cfg.SampleRate,
		timeout:    cfg.Timeout,
		voices:     voices,
		runner:     execRunner{},
	}, nil
}

// Voices returns the available voice identifiers, sorted.
func (e *Engine) Voices() []string {
	out := make([]string, len(e.voices))
	copy(out, e.voices)
	return out
}

// DefaultVoice returns af_sky when available, otherwise the first voice.
func (e *Engine) DefaultVoice() string {
	for _, v := range e.voices {
		if v == "af_sky" {
			return v
		}
	}
	return e.voices[0]
}

// ValidateVoice checks that a voice identifier is known.
func (e *Engine) ValidateVoice(voice string) error {
	for _, v := range e.voices {
		if v == voice {
			return nil
		}
	}
	return fmt.Errorf("%w: %q (available voices: %s)",
		ErrUnknownVoice, voice, strings.Join(e.voices, ", "))
}

// AvailableProviders queries the runner for the inference backends usable on
// this host.
func (e *Engine) AvailableProviders(ctx context.Context) ([]string, error) {
	out, stderr, err := e.runner.Run(ctx, e.binary, []string{"--list-providers"}, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to list inference providers: %w%s", err, stderrTail(stderr))
	}
	var providers []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			providers = append(providers, line)
		}
	}
	return providers, nil
}

// UseProviders validates the requested inference backends against the set the
// host actually supports and selects them for subsequent synthesis calls.
// Unknown names are a fatal configuration error reported with the valid set.
func (e *Engine) UseProviders(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	available, err := e.AvailableProviders(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(available))
	for _, p := range available {
		known[p] = true
	}
	var invalid []string
	for _, n := range names {
		if !known[n] {
			invalid = append(invalid, n)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%w: %s (available providers: %s)",
			ErrUnknownProvider, strings.Join(invalid, ", "), strings.Join(available, ", "))
	}
	e.providers = names
	log.Info("Using inference providers", "providers", strings.Join(names, ", "))
	return nil
}

// Create synthesizes text with the given voice, speed and language. It blocks
// for the duration of the inference, which can be minutes for a long chapter.
func (e *Engine) Create(ctx context.Context, text, voice string, speed float64, lang string) ([]int, int, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	args := []string{
		"--model", e.modelPath,
		"--voices", e.voicesPath,
		"--voice", voice,
		"--speed", fmt.Sprintf("%g", speed),
		"--lang", lang,
		"--output-raw",
	}
	for _, p := range e.providers {
		args = append(args, "--provider", p)
	}

	out, stderr, err := e.runner.Run(ctx, e.binary, args, strings.NewReader(text))
	if err != nil {
		return nil, 0, fmt.Errorf("kokoro synthesis failed: %w%s", err, stderrTail(stderr))
	}
	samples := decodePCM16(out)
	if len(samples) == 0 {
		return nil, 0, ErrEmptySynthesis
	}
	return samples, e.sampleRate, nil
}

// decodePCM16 converts little-endian 16-bit PCM bytes to samples. A trailing
// odd byte is ignored.
func decodePCM16(data []byte) []int {
	samples := make([]int, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		samples = append(samples, int(int16(binary.LittleEndian.Uint16(data[i:]))))
	}
	return samples
}

// stderrTail formats the last portion of a failed command's stderr for error
// messages.
func stderrTail(stderr []byte) string {
	s := strings.TrimSpace(string(stderr))
	if s == "" {
		return ""
	}
	const max = 400
	if len(s) > max {
		s = "..." + s[len(s)-max:]
	}
	return ": " + s
}
