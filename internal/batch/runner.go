// Package batch runs the chapter synthesis loop.
//
// Chapters are processed one at a time; each synthesized chapter is persisted
// to its own WAV file before the next one starts. That file set is the resume
// ledger: a rerun skips every chapter whose output already exists, so an
// interrupted conversion loses at most the chapter it was working on.
package batch

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/virinci/audiblez/internal/layout"
)

// minChapterChars is the stripped-text length below which a chapter is
// considered empty and never synthesized.
const minChapterChars = 10

// ChapterText is the narratable text of one chapter. Index is 1-based and
// determines the output filename.
type ChapterText struct {
	Index int
	Text  string
}

// State is the lifecycle state of one synthesis job. Transitions are
// one-directional: a job never re-enters Pending.
type State int

const (
	// StatePending is the initial state.
	StatePending State = iota
	// StateSkippedEmpty marks a chapter below the minimum text length; no
	// file is created so the chapter is re-evaluated on rerun.
	StateSkippedEmpty
	// StateSkippedExists marks a chapter whose output file already exists.
	StateSkippedExists
	// StateDone marks a chapter synthesized and persisted in this run.
	StateDone
	// StateFailed marks a chapter whose synthesis or persistence failed.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSkippedEmpty:
		return "skipped-empty"
	case StateSkippedExists:
		return "skipped-exists"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Job is the outcome of one chapter. OutputPath is always the deterministic
// path for the chapter; for skipped-empty jobs no file exists there.
type Job struct {
	Chapter    int
	OutputPath string
	State      State
}

// Synthesizer is the external TTS collaborator. It may block for minutes per
// call and is treated as a single-consumer resource.
type Synthesizer interface {
	Create(ctx context.Context, text, voice string, speed float64, lang string) (samples []int, sampleRate int, err error)
}

// Options configures a batch run.
type Options struct {
	Voice string
	Speed float64
	Lang  string

	// Intro is prepended to the first chapter that is actually
	// synthesized, once per audiobook.
	Intro string

	// Report, when set, receives a progress report after every completed
	// chapter.
	Report func(Report)
}

// Report is emitted after each synthesized chapter.
type Report struct {
	Chapter int
	Path    string
	Elapsed time.Duration
	Stats   Stats
}

// Run synthesizes every chapter in order. On synthesis failure the partial
// job list is returned together with the error; completed chapters stay on
// disk so a rerun resumes past them.
func Run(ctx context.Context, texts []ChapterText, lay layout.Layout, syn Synthesizer, opts Options) ([]Job, Stats, error) {
	stats := Stats{}
	for _, ct := range texts {
		stats.TotalChars += len(ct.Text)
	}
	log.Info("Starting synthesis",
		"chapters", len(texts),
		"chars", humanize.Comma(int64(stats.TotalChars)))

	introPending := opts.Intro != ""
	jobs := make([]Job, 0, len(texts))

	for _, ct := range texts {
		job := Job{Chapter: ct.Index, OutputPath: lay.ChapterWAV(ct.Index), State: StatePending}

		if len(strings.TrimSpace(ct.Text)) < minChapterChars {
			job.State = StateSkippedEmpty
			jobs = append(jobs, job)
			log.Info("Skipping empty chapter", "chapter", ct.Index)
			continue
		}

		if _, err := os.Stat(job.OutputPath); err == nil {
			job.State = StateSkippedExists
			jobs = append(jobs, job)
			// The existing file already carries the intro if it was the
			// first chapter read; the book is never announced twice.
			introPending = false
			log.Info("File for chapter already exists, skipping", "chapter", ct.Index, "path", job.OutputPath)
			continue
		}

		text := ct.Text
		if introPending {
			text = opts.Intro + text
			introPending = false
		}

		log.Info("Reading chapter",
			"chapter", ct.Index,
			"chars", humanize.Comma(int64(len(text))))

		start := time.Now()
		samples, sampleRate, err := syn.Create(ctx, text, opts.Voice, opts.Speed, opts.Lang)
		if err != nil {
			job.State = StateFailed
			jobs = append(jobs, job)
			return jobs, stats, fmt.Errorf("synthesizing chapter %d: %w", ct.Index, err)
		}
		if err := writeWAV(job.OutputPath, samples, sampleRate); err != nil {
			job.State = StateFailed
			jobs = append(jobs, job)
			return jobs, stats, fmt.Errorf("writing chapter %d audio: %w", ct.Index, err)
		}
		elapsed := time.Since(start)

		job.State = StateDone
		jobs = append(jobs, job)

		// The accumulator counts chapter text only, so ProcessedChars can
		// never exceed TotalChars; the throughput rate uses the full
		// synthesized text including the intro.
		stats.advance(len(ct.Text), len(text), elapsed)
		if opts.Report != nil {
			opts.Report(Report{Chapter: ct.Index, Path: job.OutputPath, Elapsed: elapsed, Stats: stats})
		}
	}

	return jobs, stats, nil
}
