package kokoro

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeRunner records invocations and plays back canned output per subcommand.
type fakeRunner struct {
	calls     [][]string
	stdins    []string
	providers string // output of --list-providers
	pcm       []byte // output of a synthesis call
	err       error
}

func (f *fakeRunner) Run(_ context.Context, _ string, args []string, stdin io.Reader) ([]byte, []byte, error) {
	f.calls = append(f.calls, args)
	var in string
	if stdin != nil {
		b, _ := io.ReadAll(stdin)
		in = string(b)
	}
	f.stdins = append(f.stdins, in)
	if f.err != nil {
		return nil, []byte("runner exploded"), f.err
	}
	if len(args) > 0 && args[0] == "--list-providers" {
		return []byte(f.providers), nil, nil
	}
	return f.pcm, nil, nil
}

func writeAssets(t *testing.T, voicesJSON string) Config {
	t.Helper()
	dir := t.TempDir()
	model := filepath.Join(dir, "kokoro-v0_19.onnx")
	voices := filepath.Join(dir, "voices.json")
	if err := os.WriteFile(model, []byte("onnx"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(voices, []byte(voicesJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	return Config{ModelPath: model, VoicesPath: voices}
}

const testVoices = `{"af_sky": [0.1], "af_bella": [0.2], "bm_george": [0.3]}`

func TestNewMissingAssets(t *testing.T) {
	dir := t.TempDir()
	_, err := New(Config{
		ModelPath:  filepath.Join(dir, "nope.onnx"),
		VoicesPath: filepath.Join(dir, "nope.json"),
	})
	if !errors.Is(err, ErrMissingAssets) {
		t.Fatalf("New() err = %v, want ErrMissingAssets", err)
	}
	if !strings.Contains(err.Error(), "wget") {
		t.Errorf("missing-assets error lacks download remediation: %v", err)
	}
}

func TestNewEnumeratesVoices(t *testing.T) {
	e, err := New(writeAssets(t, testVoices))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	want := []string{"af_bella", "af_sky", "bm_george"}
	got := e.Voices()
	if len(got) != len(want) {
		t.Fatalf("Voices() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Voices()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDefaultVoice(t *testing.T) {
	e, err := New(writeAssets(t, testVoices))
	if err != nil {
		t.Fatal(err)
	}
	if got := e.DefaultVoice(); got != "af_sky" {
		t.Errorf("DefaultVoice() = %q, want af_sky", got)
	}

	e, err = New(writeAssets(t, `{"bm_lewis": [0.5]}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := e.DefaultVoice(); got != "bm_lewis" {
		t.Errorf("DefaultVoice() without af_sky = %q, want first voice", got)
	}
}

func TestNewRejectsBadVoicesFile(t *testing.T) {
	if _, err := New(writeAssets(t, "not json")); err == nil {
		t.Error("New accepted an unparseable voices file")
	}
	if _, err := New(writeAssets(t, "{}")); err == nil {
		t.Error("New accepted an empty voices file")
	}
}

func TestValidateVoice(t *testing.T) {
	e, err := New(writeAssets(t, testVoices))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.ValidateVoice("af_bella"); err != nil {
		t.Errorf("ValidateVoice(af_bella) = %v", err)
	}
	err = e.ValidateVoice("xx_nobody")
	if !errors.Is(err, ErrUnknownVoice) {
		t.Fatalf("ValidateVoice(xx_nobody) = %v, want ErrUnknownVoice", err)
	}
	if !strings.Contains(err.Error(), "af_sky") {
		t.Errorf("unknown-voice error does not list valid voices: %v", err)
	}
}

func TestUseProviders(t *testing.T) {
	e, err := New(writeAssets(t, testVoices))
	if err != nil {
		t.Fatal(err)
	}
	runner := &fakeRunner{providers: "CPUExecutionProvider\nCUDAExecutionProvider\n"}
	e.runner = runner

	if err := e.UseProviders(context.Background(), []string{"CUDAExecutionProvider"}); err != nil {
		t.Fatalf("UseProviders(valid) = %v", err)
	}

	err = e.UseProviders(context.Background(), []string{"TPUExecutionProvider"})
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("UseProviders(invalid) = %v, want ErrUnknownProvider", err)
	}
	if !strings.Contains(err.Error(), "CPUExecutionProvider") {
		t.Errorf("unknown-provider error does not list the valid set: %v", err)
	}
}

func TestUseProvidersEmptyIsNoop(t *testing.T) {
	e, err := New(writeAssets(t, testVoices))
	if err != nil {
		t.Fatal(err)
	}
	runner := &fakeRunner{}
	e.runner = runner

	if err := e.UseProviders(context.Background(), nil); err != nil {
		t.Fatalf("UseProviders(nil) = %v", err)
	}
	if len(runner.calls) != 0 {
		t.Error("UseProviders(nil) queried the runner")
	}
}

func pcmBytes(samples ...int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

func TestCreate(t *testing.T) {
	e, err := New(writeAssets(t, testVoices))
	if err != nil {
		t.Fatal(err)
	}
	runner := &fakeRunner{pcm: pcmBytes(0, 100, -100, 32767, -32768)}
	e.runner = runner

	samples, rate, err := e.Create(context.Background(), "Hello there.", "af_sky", 1.2, "en-gb")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rate != 24000 {
		t.Errorf("sample rate = %d, want 24000", rate)
	}
	want := []int{0, 100, -100, 32767, -32768}
	if len(samples) != len(want) {
		t.Fatalf("got %d samples, want %d", len(samples), len(want))
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, samples[i], want[i])
		}
	}

	if runner.stdins[0] != "Hello there." {
		t.Errorf("text not sent on stdin: %q", runner.stdins[0])
	}
	args := strings.Join(runner.calls[0], " ")
	for _, frag := range []string{"--voice af_sky", "--speed 1.2", "--lang en-gb", "--output-raw"} {
		if !strings.Contains(args, frag) {
			t.Errorf("args missing %q: %s", frag, args)
		}
	}
}

func TestCreatePassesProviders(t *testing.T) {
	e, err := New(writeAssets(t, testVoices))
	if err != nil {
		t.Fatal(err)
	}
	runner := &fakeRunner{providers: "CPUExecutionProvider\n", pcm: pcmBytes(1, 2)}
	e.runner = runner

	if err := e.UseProviders(context.Background(), []string{"CPUExecutionProvider"}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.Create(context.Background(), "x", "af_sky", 1.0, "en-gb"); err != nil {
		t.Fatal(err)
	}
	last := strings.Join(runner.calls[len(runner.calls)-1], " ")
	if !strings.Contains(last, "--provider CPUExecutionProvider") {
		t.Errorf("synthesis args missing provider selection: %s", last)
	}
}

func TestCreateFailure(t *testing.T) {
	e, err := New(writeAssets(t, testVoices))
	if err != nil {
		t.Fatal(err)
	}
	e.runner = &fakeRunner{err: errors.New("exit status 1")}

	_, _, err = e.Create(context.Background(), "x", "af_sky", 1.0, "en-gb")
	if err == nil {
		t.Fatal("Create succeeded despite runner failure")
	}
	if !strings.Contains(err.Error(), "runner exploded") {
		t.Errorf("error does not surface stderr: %v", err)
	}
}

func TestCreateEmptyOutput(t *testing.T) {
	e, err := New(writeAssets(t, testVoices))
	if err != nil {
		t.Fatal(err)
	}
	e.runner = &fakeRunner{pcm: nil}

	_, _, err = e.Create(context.Background(), "x", "af_sky", 1.0, "en-gb")
	if !errors.Is(err, ErrEmptySynthesis) {
		t.Errorf("Create with no PCM = %v, want ErrEmptySynthesis", err)
	}
}
