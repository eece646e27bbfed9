// Package main provides the entry point for the audiblez CLI.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/virinci/audiblez/internal/assemble"
	"github.com/virinci/audiblez/internal/batch"
	"github.com/virinci/audiblez/internal/classify"
	"github.com/virinci/audiblez/internal/ebook"
	"github.com/virinci/audiblez/internal/extract"
	"github.com/virinci/audiblez/internal/kokoro"
	"github.com/virinci/audiblez/internal/layout"
	"github.com/virinci/audiblez/internal/picker"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile   string
	lang         string
	voice        string
	speed        float64
	pickManually bool
	providers    []string
	modelPath    string
	voicesPath   string
	ruleSet      string

	rootCmd = &cobra.Command{
		Use:   "audiblez EPUB_FILE",
		Short: "Generate audiobooks from e-books",
		Long: paragraph(
			fmt.Sprintf("\nConvert an epub e-book into a narrated %s audiobook.", keyword("m4b")),
		),
		Example:          paragraph("audiblez book.epub -l en-us -v af_sky\naudiblez book.epub --pick"),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args: func(cmd *cobra.Command, args []string) error {
			// SilenceUsage suppresses the usage block on errors, but a bare
			// invocation must still show it.
			if len(args) == 0 {
				_ = cmd.Help()
				return errors.New("missing epub file argument")
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: execute,
	}
)

func validateOptions(*cobra.Command) error {
	// grab config values from Viper
	lang = viper.GetString("lang")
	voice = viper.GetString("voice")
	speed = viper.GetFloat64("speed")
	modelPath = viper.GetString("model")
	voicesPath = viper.GetString("voices")
	ruleSet = viper.GetString("rules")

	if speed < 0.5 || speed > 2.0 {
		return fmt.Errorf("speed must be between 0.5 and 2.0, got %g", speed)
	}
	if _, err := classify.RuleSet(ruleSet); err != nil {
		return err
	}
	return nil
}

func execute(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	bookPath := args[0]

	// The engine comes up first: missing model assets are a configuration
	// problem and should surface before any document is opened.
	engine, err := kokoro.New(kokoro.Config{ModelPath: modelPath, VoicesPath: voicesPath})
	if err != nil {
		return err
	}
	if err := engine.UseProviders(ctx, providers); err != nil {
		return err
	}
	if voice == "" {
		voice = engine.DefaultVoice()
	} else if err := engine.ValidateVoice(voice); err != nil {
		return err
	}

	book, err := ebook.Open(bookPath)
	if err != nil {
		return err
	}
	lay := layout.New(bookPath)

	title, author := book.Title(), book.Author()
	if title == "" {
		title = lay.Base()
	}
	if author == "" {
		author = "Unknown"
	}
	log.Info("Converting e-book", "title", title, "author", author, "voice", voice, "lang", lang)
	if cover, ok := book.Cover(); ok {
		log.Debug("Found cover image", "name", cover.Name, "type", cover.MediaType)
	}

	chapters, err := selectChapters(book.Items())
	if err != nil {
		return err
	}
	log.Info("Chapters to narrate", "count", len(chapters), "names", strings.Join(itemNames(chapters), ", "))

	texts := make([]batch.ChapterText, 0, len(chapters))
	for i, ch := range chapters {
		texts = append(texts, batch.ChapterText{Index: i + 1, Text: extract.Text(ch.RawBody)})
	}

	if !assemble.Available() {
		log.Warn("ffmpeg not found; per-chapter wav files will be produced but no m4b")
	}

	intro := fmt.Sprintf("%s by %s.\n\n", title, author)
	jobs, _, err := batch.Run(ctx, texts, lay, engine, batch.Options{
		Voice:  voice,
		Speed:  speed,
		Lang:   lang,
		Intro:  intro,
		Report: printReport,
	})
	if err != nil {
		return err
	}

	if !assemble.Available() {
		log.Warn("No m4b produced (ffmpeg missing). The chapter files are ready:",
			"files", strings.Join(producedFiles(jobs), ", "))
		return nil
	}

	manifest := assemble.Manifest{Title: title, Author: author}
	if cover, ok := book.Cover(); ok {
		manifest.Cover = cover.RawBody
	}
	paths := make([]string, 0, len(jobs))
	for _, job := range jobs {
		paths = append(paths, job.OutputPath)
	}

	final, err := assemble.New().Assemble(ctx, lay, paths, manifest)
	if err != nil {
		log.Error("Audiobook assembly failed; the chapter wav files are kept for a retry", "err", err)
		return err
	}

	log.Info("Audiobook created. Enjoy!", "path", final)
	log.Info("The intermediary chapter wav files can be deleted; the m4b is all you need")
	return nil
}

// selectChapters applies either the configured detection rules or the
// interactive picker. Either way the result is in document order.
func selectChapters(items []ebook.Item) ([]ebook.Item, error) {
	if !pickManually {
		rules, err := classify.RuleSet(ruleSet)
		if err != nil {
			return nil, err
		}
		return classify.Classify(items, rules), nil
	}

	var docs []ebook.Item
	for _, it := range items {
		if it.Kind == ebook.KindDocument {
			docs = append(docs, it)
		}
	}
	if len(docs) == 0 {
		return nil, errors.New("the book contains no text documents to narrate")
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return nil, errors.New("manual chapter selection needs an interactive terminal")
	}

	indices, err := picker.Choose("Select which chapters to read in the audiobook", itemNames(docs))
	if err != nil {
		return nil, err
	}
	selected := make([]ebook.Item, 0, len(indices))
	for _, i := range indices {
		selected = append(selected, docs[i])
	}
	return selected, nil
}

func itemNames(items []ebook.Item) []string {
	names := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, it.Name)
	}
	return names
}

func producedFiles(jobs []batch.Job) []string {
	var out []string
	for _, job := range jobs {
		if job.State == batch.StateDone || job.State == batch.StateSkippedExists {
			out = append(out, job.OutputPath)
		}
	}
	return out
}

func printReport(r batch.Report) {
	log.Info("Chapter written",
		"path", r.Path,
		"seconds", fmt.Sprintf("%.2f", r.Elapsed.Seconds()),
		"chars_per_sec", fmt.Sprintf("%.0f", r.Stats.CharsPerSec))
	log.Info("Progress",
		"done", fmt.Sprintf("%d%%", r.Stats.Percent()),
		"chars", fmt.Sprintf("%s/%s", humanize.Comma(int64(r.Stats.ProcessedChars)), humanize.Comma(int64(r.Stats.TotalChars))),
		"eta", batch.FormatETA(r.Stats.Remaining))
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.Flags().StringVarP(&lang, "lang", "l", "en-gb", "language code (en-gb, en-us, fr-fr, ja, ko, cmn, ...)")
	rootCmd.Flags().StringVarP(&voice, "voice", "v", "", "narrating voice (defaults to af_sky when available)")
	rootCmd.Flags().Float64VarP(&speed, "speed", "s", 1.0, "speech speed, from 0.5 to 2.0")
	rootCmd.Flags().BoolVarP(&pickManually, "pick", "p", false, "interactively pick which chapters to read")
	rootCmd.Flags().StringSliceVar(&providers, "providers", nil, "ONNX execution providers, checked against the host")
	rootCmd.Flags().StringVar(&modelPath, "model", kokoro.DefaultModelFile, "path to the Kokoro ONNX model")
	rootCmd.Flags().StringVar(&voicesPath, "voices", kokoro.DefaultVoicesFile, "path to the Kokoro voices file")
	rootCmd.Flags().StringVar(&ruleSet, "rules", "default", "chapter detection rule set (default, legacy)")

	// Config bindings
	_ = viper.BindPFlag("lang", rootCmd.Flags().Lookup("lang"))
	_ = viper.BindPFlag("voice", rootCmd.Flags().Lookup("voice"))
	_ = viper.BindPFlag("speed", rootCmd.Flags().Lookup("speed"))
	_ = viper.BindPFlag("model", rootCmd.Flags().Lookup("model"))
	_ = viper.BindPFlag("voices", rootCmd.Flags().Lookup("voices"))
	_ = viper.BindPFlag("rules", rootCmd.Flags().Lookup("rules"))

	viper.SetDefault("lang", "en-gb")
	viper.SetDefault("speed", 1.0)
	viper.SetDefault("rules", "default")
	viper.SetDefault("model", kokoro.DefaultModelFile)
	viper.SetDefault("voices", kokoro.DefaultVoicesFile)

	rootCmd.AddCommand(configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "audiblez")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "audiblez")}, dirs...)
	}

	if c := os.Getenv("AUDIBLEZ_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("audiblez")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("audiblez")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "audiblez.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
