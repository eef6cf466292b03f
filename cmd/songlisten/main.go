package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"songlisten/internal/cache"
	"songlisten/internal/config"
	"songlisten/internal/ingest"
	"songlisten/internal/logger"
	"songlisten/internal/pipeline"
	"songlisten/internal/progress"
	"songlisten/internal/shutdown"
	"songlisten/internal/synthesis"
	"songlisten/internal/track"
	"songlisten/pkg/utils"
)

func main() {
	cfg, opts, err := parseArgs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] %v\n", err)
		os.Exit(1)
	}

	sh := shutdown.New()
	sh.Listen()
	defer sh.Wait()

	log := logger.New(cfg.Verbose)
	defer log.Close()

	if !cfg.Verbose {
		logDir := config.GetDefaultLogPath()
		if err := os.MkdirAll(logDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] Failed to create log directory: %v\n", err)
		} else {
			logFile := filepath.Join(logDir, fmt.Sprintf("songlisten_%s.log", time.Now().Format("2006-01-02_15-04-05")))
			if err := log.SetFileLog(logFile); err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] Failed to setup file logging: %v\n", err)
			} else {
				log.Debug("Logging to file: %s", logFile)
			}
		}
	}

	if cfg.Verbose && opts.ConfigPath != "" {
		log.Debug("Loaded configuration from: %s", opts.ConfigPath)
	}

	if err := cfg.Validate(); err != nil {
		log.Error("Configuration error: %v", err)
		os.Exit(1)
	}

	if opts.ImportPath != "" {
		if err := runImport(sh.Context(), cfg, log, opts.ImportPath); err != nil {
			log.Error("%v", err)
			os.Exit(1)
		}
		return
	}

	if opts.Query == "" {
		log.Error("No query given. Run songlisten --help for usage.")
		os.Exit(1)
	}

	if err := run(sh, cfg, log, opts); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

func run(sh *shutdown.Handler, cfg config.Config, log *logger.Logger, opts cliOptions) error {
	mode, err := cfg.RequestMode("")
	if err != nil {
		return err
	}

	// yt-dlp and ffmpeg only matter when the audio path can run. In auto
	// mode a missing binary degrades to the descriptor path, so it is a
	// warning rather than a hard stop.
	if mode == track.ModeAuto || mode == track.ModeFullAudio {
		if err := utils.CheckDependencies(cfg.YTDLPPath, cfg.FFmpegPath); err != nil {
			if mode == track.ModeFullAudio {
				return fmt.Errorf("dependency check failed: %w", err)
			}
			log.Warn("%v; the audio path may fall back to descriptors", err)
		}
	}

	store, err := cache.Open(cfg.CacheDir, log)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("Error closing cache: %v", err)
		}
	}()

	pipe := pipeline.Assemble(store, log, cfg)

	if opts.CacheStatus {
		report, err := pipe.CacheStatus(opts.Query)
		if err != nil {
			return err
		}
		return printJSON(report)
	}

	var bar *progress.Bar
	var hooks pipeline.Hooks
	if !cfg.Verbose && !opts.JSON {
		bar = progress.New()
		log.SetProgressBar(true)
		hooks.OnStage = func(stage pipeline.Stage, detail string) {
			bar.SetStage(string(stage), detail)
		}
		sh.AddCleanup(func() {
			bar.Abort()
		})
	} else if opts.JSON && !cfg.Verbose {
		// Keep stdout clean for the JSON document; the file sink still
		// captures everything.
		log.SetProgressBar(true)
	}

	res, err := pipe.Listen(sh.Context(), opts.Query, mode, hooks)

	if bar != nil {
		if err != nil {
			bar.Abort()
		} else {
			bar.Finish()
		}
	}
	log.SetProgressBar(false)

	if err != nil {
		return err
	}

	var syn *synthesis.Result
	if !opts.NoSynthesis {
		syn = synthesis.Build(res)
	}

	if opts.JSON {
		return printJSON(listenDocument{Listen: res, Synthesis: syn})
	}

	printHuman(res, syn)
	return nil
}

func runImport(ctx context.Context, cfg config.Config, log *logger.Logger, path string) error {
	store, err := cache.Open(cfg.CacheDir, log)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer store.Close()

	rep, err := ingest.New(store, log, cfg).Import(ctx, path)
	if err != nil {
		return err
	}

	log.Info("Imported %d track(s) into %s", len(rep.Imported), cfg.CacheDir)
	for _, c := range rep.Imported {
		log.Info("  %s by %s", c.Title, c.Artist)
	}
	if len(rep.Skipped) > 0 {
		log.Warn("Skipped %d file(s)", len(rep.Skipped))
	}
	return nil
}

// listenDocument is the JSON envelope printed by --json. It matches the
// shape the web API returns for a completed job.
type listenDocument struct {
	Listen    *track.ListenResult `json:"listen"`
	Synthesis *synthesis.Result   `json:"synthesis,omitempty"`
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printHuman renders the result for the terminal.
func printHuman(res *track.ListenResult, syn *synthesis.Result) {
	sel := res.Track.Selected

	title := fmt.Sprintf("%s by %s", sel.Title, sel.Artist)
	if sel.DurationSec > 0 {
		title += " [" + utils.FormatDuration(sel.DurationSec) + "]"
	}

	fmt.Println()
	fmt.Printf("Track:    %s (via %s)\n", title, sel.Provider)
	fmt.Printf("Path:     %s (mode %s)\n", res.AnalysisPath, res.Mode)

	if res.Features != nil {
		var bits []string
		if res.Features.TempoBPM > 0 {
			bits = append(bits, fmt.Sprintf("%.0f BPM", res.Features.TempoBPM))
		}
		if res.Features.Key != "" {
			key := res.Features.Key
			if res.Features.Mode != "" {
				key += " " + res.Features.Mode
			}
			bits = append(bits, key)
		}
		if res.Features.EnergyMean > 0 {
			bits = append(bits, fmt.Sprintf("energy %.2f", res.Features.EnergyMean))
		}
		if len(bits) > 0 {
			fmt.Printf("Audio:    %s\n", strings.Join(bits, ", "))
		}
	}

	if res.Lyrics != nil && !res.Lyrics.Unavailable() {
		fmt.Printf("Lyrics:   %s (%d chars)\n", res.Lyrics.Source, len(res.Lyrics.Text))
	}

	if syn != nil {
		fmt.Println()
		fmt.Println(syn.CombinedObservation)

		if len(syn.Highlights) > 0 {
			fmt.Println()
			fmt.Println("Highlights:")
			for _, h := range syn.Highlights {
				fmt.Printf("  - %s\n", h)
			}
		}
		if len(syn.UncertaintyNotes) > 0 {
			fmt.Println()
			fmt.Println("Uncertainty:")
			for _, n := range syn.UncertaintyNotes {
				fmt.Printf("  - %s\n", n)
			}
		}
	}

	if len(res.Warnings) > 0 {
		fmt.Println()
		fmt.Println("Warnings:")
		for _, w := range res.Warnings {
			fmt.Printf("  - %s\n", w)
		}
	}
}
