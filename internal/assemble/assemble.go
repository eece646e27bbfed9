// Package assemble turns the per-chapter WAV files into a single chaptered
// m4b audiobook by driving ffmpeg: one pass to concatenate and encode the
// chapters into an intermediate AAC track, one pass to mux that track with
// metadata, chapter marks and optional cover art. The audio is stream-copied
// in the mux pass, never re-encoded.
package assemble

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/go-audio/wav"

	"github.com/virinci/audiblez/internal/layout"
)

// Manifest carries the container-level metadata for the final audiobook.
type Manifest struct {
	Title  string
	Author string
	Cover  []byte // raw image bytes; nil when the book has no cover
}

// CommandResult captures one external command invocation.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// StageError is a stage-aware assembly failure with the external command's
// captured output attached.
type StageError struct {
	Stage  string
	Result CommandResult
	Err    error
}

// Error formats the failure with the stderr tail, which is where ffmpeg
// explains itself.
func (e *StageError) Error() string {
	msg := fmt.Sprintf("%s failed (exit %d)", e.Stage, e.Result.ExitCode)
	if tail := lastLines(e.Result.Stderr, 4); tail != "" {
		msg += ": " + tail
	}
	return msg
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *StageError) Unwrap() error { return e.Err }

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (CommandResult, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		err = nil // the nonzero exit is reported through ExitCode
	default:
		result.ExitCode = -1
	}
	return result, err
}

// Available reports whether the muxing tool is installed. When it is not, the
// pipeline completes with per-chapter files only.
func Available() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// Assembler drives ffmpeg to produce the final audiobook.
type Assembler struct {
	ffmpeg string
	runner commandRunner
}

// New returns an assembler using the ffmpeg found on PATH.
func New() *Assembler {
	return &Assembler{ffmpeg: "ffmpeg", runner: execRunner{}}
}

// Assemble concatenates the chapter files in order and muxes the final
// container. Paths whose file does not exist (skipped-empty chapters)
// contribute nothing; the order of the rest is preserved. An existing
// intermediate track is reused. All intermediates are left intact on failure.
func (a *Assembler) Assemble(ctx context.Context, lay layout.Layout, chapterPaths []string, m Manifest) (string, error) {
	var existing []string
	for _, p := range chapterPaths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return "", errors.New("no chapter audio files to assemble")
	}

	intermediate := lay.Intermediate()
	if _, err := os.Stat(intermediate); err == nil {
		log.Info("Reusing existing intermediate track", "path", intermediate)
	} else {
		log.Info("Converting chapters to a single AAC track", "chapters", len(existing))
		if err := a.concat(ctx, existing, intermediate); err != nil {
			return "", err
		}
	}

	log.Info("Creating M4B file")
	final := lay.Final()
	if err := a.mux(ctx, intermediate, existing, m, final); err != nil {
		return "", err
	}

	// The intermediate is only disposable once the mux succeeded.
	if err := os.Remove(intermediate); err != nil {
		log.Warn("Unable to remove intermediate track", "path", intermediate, "err", err)
	}
	return final, nil
}

// concat encodes the chapter WAVs, in order, into one AAC track using the
// ffmpeg concat demuxer.
func (a *Assembler) concat(ctx context.Context, chapterPaths []string, out string) error {
	list, err := writeConcatList(chapterPaths)
	if err != nil {
		return err
	}
	defer os.Remove(list) //nolint:errcheck

	args := []string{
		"-nostdin", "-y",
		"-f", "concat", "-safe", "0",
		"-i", list,
		"-c:a", "aac", "-b:a", "64k",
		out,
	}
	result, err := a.runner.Run(ctx, a.ffmpeg, args...)
	if err != nil {
		return &StageError{Stage: "chapter concatenation", Result: result, Err: err}
	}
	if result.ExitCode != 0 {
		return &StageError{Stage: "chapter concatenation", Result: result}
	}
	return nil
}

// mux produces the final container: audio stream-copied from the intermediate
// track, title/artist tags, chapter marks, and the cover image attached as a
// disposition=attached_pic video stream when present. The output is written
// to a temporary name and renamed so a failed mux never clobbers a previous
// audiobook.
func (a *Assembler) mux(ctx context.Context, intermediate string, chapterPaths []string, m Manifest, final string) error {
	args := []string{"-nostdin", "-y", "-i", intermediate}
	nextInput := 1

	var coverFile string
	if len(m.Cover) > 0 {
		f, err := os.CreateTemp("", "audiblez-cover-*")
		if err != nil {
			return fmt.Errorf("unable to write cover image: %w", err)
		}
		if _, err := f.Write(m.Cover); err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
			return fmt.Errorf("unable to write cover image: %w", err)
		}
		_ = f.Close()
		coverFile = f.Name()
		defer os.Remove(coverFile) //nolint:errcheck

		args = append(args,
			"-i", coverFile,
			"-map", "0:a", "-map", fmt.Sprintf("%d:v", nextInput),
		)
		nextInput++
	}

	var metaFile string
	if meta, err := chapterMetadata(chapterPaths); err != nil {
		// Chapter marks are an enrichment; a book without them is still
		// a valid audiobook.
		log.Warn("Unable to compute chapter marks", "err", err)
	} else {
		f, err := os.CreateTemp("", "audiblez-chapters-*.txt")
		if err != nil {
			return fmt.Errorf("unable to write chapter metadata: %w", err)
		}
		if _, err := f.WriteString(meta); err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
			return fmt.Errorf("unable to write chapter metadata: %w", err)
		}
		_ = f.Close()
		metaFile = f.Name()
		defer os.Remove(metaFile) //nolint:errcheck

		args = append(args,
			"-i", metaFile,
			"-map_chapters", fmt.Sprintf("%d", nextInput),
		)
		nextInput++
	}

	args = append(args, "-c:a", "copy")
	if coverFile != "" {
		args = append(args, "-c:v", "copy", "-disposition:v", "attached_pic")
	}
	args = append(args,
		"-metadata", "title="+m.Title,
		"-metadata", "artist="+m.Author,
	)

	part := partialName(final)
	args = append(args, "-f", "ipod", part)

	result, err := a.runner.Run(ctx, a.ffmpeg, args...)
	if err != nil {
		_ = os.Remove(part)
		return &StageError{Stage: "audiobook muxing", Result: result, Err: err}
	}
	if result.ExitCode != 0 {
		_ = os.Remove(part)
		return &StageError{Stage: "audiobook muxing", Result: result}
	}
	if err := os.Rename(part, final); err != nil {
		return fmt.Errorf("unable to move audiobook into place: %w", err)
	}
	return nil
}

// partialName is where the muxer writes before the final rename.
func partialName(final string) string {
	return filepath.Join(filepath.Dir(final), "."+filepath.Base(final)+".part")
}

// writeConcatList emits an ffmpeg concat demuxer list file, escaping single
// quotes in paths the way the demuxer expects.
func writeConcatList(paths []string) (string, error) {
	f, err := os.CreateTemp("", "audiblez-concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("unable to create concat list: %w", err)
	}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		quoted := strings.ReplaceAll(abs, "'", `'\''`)
		if _, err := fmt.Fprintf(f, "file '%s'\n", quoted); err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
			return "", fmt.Errorf("unable to write concat list: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("unable to close concat list: %w", err)
	}
	return f.Name(), nil
}

// chapterMetadata builds an FFMETADATA document with one chapter mark per
// chapter file. Durations come from the PCM sample count, not the decoder's
// float-based duration, so the marks stay exact and rounding never
// accumulates across chapters.
func chapterMetadata(chapterPaths []string) (string, error) {
	var b strings.Builder
	b.WriteString(";FFMETADATA1\n")

	var offset int64 // milliseconds
	for i, p := range chapterPaths {
		ms, err := wavMillis(p)
		if err != nil {
			return "", fmt.Errorf("probing %s: %w", p, err)
		}
		start := offset
		offset += ms
		fmt.Fprintf(&b, "[CHAPTER]\nTIMEBASE=1/1000\nSTART=%d\nEND=%d\ntitle=Chapter %d\n",
			start, offset, i+1)
	}
	return b.String(), nil
}

// wavMillis returns the duration of a WAV file's PCM data in milliseconds,
// computed from the frame count.
func wavMillis(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close() //nolint:errcheck

	dec := wav.NewDecoder(f)
	if err := dec.FwdToPCM(); err != nil {
		return 0, fmt.Errorf("not a readable WAV: %w", err)
	}
	frameBytes := int64(dec.BitDepth/8) * int64(dec.NumChans)
	if frameBytes == 0 || dec.SampleRate == 0 {
		return 0, fmt.Errorf("malformed WAV header in %s", path)
	}
	frames := dec.PCMLen() / frameBytes
	return frames * 1000 / int64(dec.SampleRate), nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, " "))
}
