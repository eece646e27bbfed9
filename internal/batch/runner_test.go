package batch

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/go-audio/wav"

	"github.com/virinci/audiblez/internal/layout"
)

// fakeSynth records every synthesis call and returns a fixed sample buffer.
type fakeSynth struct {
	calls []string
	fail  bool
}

func (f *fakeSynth) Create(_ context.Context, text, _ string, _ float64, _ string) ([]int, int, error) {
	f.calls = append(f.calls, text)
	if f.fail {
		return nil, 0, errors.New("engine on fire")
	}
	return []int{0, 1000, -1000, 500}, 24000, nil
}

func testOpts() Options {
	return Options{Voice: "af_sky", Speed: 1.0, Lang: "en-gb", Intro: "The Book by Someone.\n\n"}
}

func testLayout(t *testing.T) layout.Layout {
	t.Helper()
	return layout.In(t.TempDir(), "book.epub")
}

func TestRunSynthesizesChapters(t *testing.T) {
	lay := testLayout(t)
	syn := &fakeSynth{}
	texts := []ChapterText{
		{Index: 1, Text: "This is the first chapter, which is long enough."},
		{Index: 2, Text: "And here comes the second chapter of the book."},
	}

	jobs, stats, err := Run(context.Background(), texts, lay, syn, testOpts())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}
	for i, job := range jobs {
		if job.State != StateDone {
			t.Errorf("job %d state = %v, want done", i, job.State)
		}
		if _, err := os.Stat(job.OutputPath); err != nil {
			t.Errorf("job %d output missing: %v", i, err)
		}
	}
	if len(syn.calls) != 2 {
		t.Errorf("synthesis called %d times, want 2", len(syn.calls))
	}
	if stats.ProcessedChars != stats.TotalChars {
		t.Errorf("ProcessedChars = %d, want TotalChars %d", stats.ProcessedChars, stats.TotalChars)
	}
}

func TestRunIntroOnlyOnFirstSynthesized(t *testing.T) {
	lay := testLayout(t)
	syn := &fakeSynth{}
	texts := []ChapterText{
		{Index: 1, Text: "tiny"}, // skipped-empty: intro must move to chapter 2
		{Index: 2, Text: "The real first narrated chapter text."},
		{Index: 3, Text: "A later chapter that gets no announcement."},
	}

	if _, _, err := Run(context.Background(), texts, lay, syn, testOpts()); err != nil {
		t.Fatal(err)
	}
	if len(syn.calls) != 2 {
		t.Fatalf("synthesis called %d times, want 2", len(syn.calls))
	}
	if !strings.HasPrefix(syn.calls[0], "The Book by Someone.\n\n") {
		t.Errorf("first synthesized chapter lacks intro: %q", syn.calls[0])
	}
	if strings.Contains(syn.calls[1], "The Book by Someone") {
		t.Errorf("intro repeated on later chapter: %q", syn.calls[1])
	}
}

func TestRunSkipsEmptyChapter(t *testing.T) {
	lay := testLayout(t)
	syn := &fakeSynth{}
	texts := []ChapterText{{Index: 1, Text: "12345"}} // below the 10-char minimum

	jobs, _, err := Run(context.Background(), texts, lay, syn, testOpts())
	if err != nil {
		t.Fatal(err)
	}
	if jobs[0].State != StateSkippedEmpty {
		t.Errorf("state = %v, want skipped-empty", jobs[0].State)
	}
	if len(syn.calls) != 0 {
		t.Error("TTS called for an empty chapter")
	}
	if _, err := os.Stat(jobs[0].OutputPath); !os.IsNotExist(err) {
		t.Error("file created for an empty chapter")
	}
}

func TestRunWhitespaceOnlyCountsAsEmpty(t *testing.T) {
	lay := testLayout(t)
	syn := &fakeSynth{}
	texts := []ChapterText{{Index: 1, Text: "    \n\n   \t   \n"}}

	jobs, _, err := Run(context.Background(), texts, lay, syn, testOpts())
	if err != nil {
		t.Fatal(err)
	}
	if jobs[0].State != StateSkippedEmpty {
		t.Errorf("state = %v, want skipped-empty", jobs[0].State)
	}
}

func TestRunResumeSkipsExisting(t *testing.T) {
	lay := testLayout(t)
	syn := &fakeSynth{}
	texts := []ChapterText{
		{Index: 1, Text: "Chapter one text, long enough to narrate."},
		{Index: 2, Text: "Chapter two text, long enough to narrate."},
	}

	// Simulate a previous run having finished chapter 2.
	if err := os.WriteFile(lay.ChapterWAV(2), []byte("RIFF-ish"), 0o644); err != nil {
		t.Fatal(err)
	}

	jobs, _, err := Run(context.Background(), texts, lay, syn, testOpts())
	if err != nil {
		t.Fatal(err)
	}
	if jobs[0].State != StateDone {
		t.Errorf("chapter 1 state = %v, want done", jobs[0].State)
	}
	if jobs[1].State != StateSkippedExists {
		t.Errorf("chapter 2 state = %v, want skipped-exists", jobs[1].State)
	}
	if len(syn.calls) != 1 {
		t.Errorf("synthesis called %d times, want 1 (chapter 1 only)", len(syn.calls))
	}
}

func TestRunResumeDoesNotRepeatIntro(t *testing.T) {
	lay := testLayout(t)
	texts := []ChapterText{
		{Index: 1, Text: "Chapter one text, long enough to narrate."},
		{Index: 2, Text: "Chapter two text, long enough to narrate."},
	}

	// First run is interrupted after chapter 1.
	first := &fakeSynth{}
	if _, _, err := Run(context.Background(), texts[:1], lay, first, testOpts()); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(first.calls[0], "The Book by Someone.\n\n") {
		t.Fatalf("first run did not announce the book: %q", first.calls[0])
	}

	// The resumed run skips chapter 1 and must not announce the book again.
	second := &fakeSynth{}
	if _, _, err := Run(context.Background(), texts, lay, second, testOpts()); err != nil {
		t.Fatal(err)
	}
	if len(second.calls) != 1 {
		t.Fatalf("resume performed %d synthesis calls, want 1", len(second.calls))
	}
	if strings.Contains(second.calls[0], "The Book by Someone") {
		t.Errorf("resumed run repeated the intro: %q", second.calls[0])
	}
}

func TestRunIdempotent(t *testing.T) {
	lay := testLayout(t)
	texts := []ChapterText{
		{Index: 1, Text: "Chapter one text, long enough to narrate."},
		{Index: 2, Text: "short"},
		{Index: 3, Text: "Chapter three text, long enough to narrate."},
	}

	first := &fakeSynth{}
	if _, _, err := Run(context.Background(), texts, lay, first, testOpts()); err != nil {
		t.Fatal(err)
	}

	second := &fakeSynth{}
	jobs, _, err := Run(context.Background(), texts, lay, second, testOpts())
	if err != nil {
		t.Fatal(err)
	}
	if len(second.calls) != 0 {
		t.Errorf("second run performed %d synthesis calls, want 0", len(second.calls))
	}
	wantStates := []State{StateSkippedExists, StateSkippedEmpty, StateSkippedExists}
	for i, want := range wantStates {
		if jobs[i].State != want {
			t.Errorf("rerun job %d state = %v, want %v", i, jobs[i].State, want)
		}
	}
}

func TestRunFailureAbortsBatch(t *testing.T) {
	lay := testLayout(t)
	syn := &fakeSynth{fail: true}
	texts := []ChapterText{
		{Index: 1, Text: "Chapter one text, long enough to narrate."},
		{Index: 2, Text: "Chapter two text, long enough to narrate."},
	}

	jobs, _, err := Run(context.Background(), texts, lay, syn, testOpts())
	if err == nil {
		t.Fatal("Run succeeded despite engine failure")
	}
	if !strings.Contains(err.Error(), "chapter 1") {
		t.Errorf("error does not name the failed chapter: %v", err)
	}
	if len(jobs) != 1 || jobs[0].State != StateFailed {
		t.Errorf("jobs = %v, want a single failed job", jobs)
	}
	if len(syn.calls) != 1 {
		t.Errorf("batch continued after failure: %d calls", len(syn.calls))
	}
}

func TestRunProgressReports(t *testing.T) {
	lay := testLayout(t)
	syn := &fakeSynth{}
	texts := []ChapterText{
		{Index: 1, Text: strings.Repeat("a", 50)},
		{Index: 2, Text: strings.Repeat("b", 50)},
	}

	var reports []Report
	opts := testOpts()
	opts.Report = func(r Report) { reports = append(reports, r) }

	if _, _, err := Run(context.Background(), texts, lay, syn, opts); err != nil {
		t.Fatal(err)
	}
	if len(reports) != 2 {
		t.Fatalf("got %d reports, want 2", len(reports))
	}

	prev := 0
	for i, r := range reports {
		if r.Stats.ProcessedChars < prev {
			t.Errorf("report %d: ProcessedChars decreased", i)
		}
		if r.Stats.ProcessedChars > r.Stats.TotalChars {
			t.Errorf("report %d: ProcessedChars %d exceeds TotalChars %d",
				i, r.Stats.ProcessedChars, r.Stats.TotalChars)
		}
		prev = r.Stats.ProcessedChars
	}
	if reports[0].Stats.Percent() != 50 {
		t.Errorf("first report percent = %d, want 50", reports[0].Stats.Percent())
	}
	if reports[1].Stats.Percent() != 100 {
		t.Errorf("final report percent = %d, want 100", reports[1].Stats.Percent())
	}
}

func TestRunWritesPlayableWAV(t *testing.T) {
	lay := testLayout(t)
	syn := &fakeSynth{}
	texts := []ChapterText{{Index: 1, Text: "A chapter long enough to be synthesized."}}

	jobs, _, err := Run(context.Background(), texts, lay, syn, testOpts())
	if err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(jobs[0].OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatal("output is not a valid WAV file")
	}
	if dec.SampleRate != 24000 {
		t.Errorf("sample rate = %d, want 24000", dec.SampleRate)
	}
	if dec.NumChans != 1 {
		t.Errorf("channels = %d, want 1", dec.NumChans)
	}

	// No stray .part file may survive a successful write.
	if _, err := os.Stat(jobs[0].OutputPath + ".part"); !os.IsNotExist(err) {
		t.Error("temporary .part file left behind")
	}
}
