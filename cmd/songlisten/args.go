package main

import (
	"fmt"
	"os"
	"strings"

	"songlisten/internal/config"
)

// cliOptions are per-invocation settings that do not belong in the
// config file.
type cliOptions struct {
	Query       string
	ConfigPath  string
	JSON        bool
	NoSynthesis bool
	ImportPath  string
	CacheStatus bool
}

// parseArgs parses command-line arguments and loads configuration.
// Priority: CLI flags > config file > defaults
func parseArgs() (config.Config, cliOptions, error) {
	args := os.Args[1:]

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			printUsage()
			os.Exit(0)
		}
		if arg == "--init-config" {
			return config.Config{}, cliOptions{}, initConfigFile()
		}
	}

	var opts cliOptions

	for i := 0; i < len(args); i++ {
		if args[i] == "--config" || args[i] == "-c" {
			if i+1 >= len(args) {
				return config.Config{}, opts, fmt.Errorf("--config requires a path argument")
			}
			opts.ConfigPath = args[i+1]
			break
		}
	}

	cfg, err := config.LoadConfigFile(opts.ConfigPath)
	if err != nil {
		return config.Config{}, opts, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.ConfigPath == "" {
		opts.ConfigPath = config.FindConfigFile()
	}

	var queryParts []string
	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "--verbose", "-v":
			cfg.Verbose = true

		case "--mode", "-m":
			if i+1 >= len(args) {
				return config.Config{}, opts, fmt.Errorf("--mode requires a mode argument")
			}
			i++
			cfg.Mode = args[i]

		case "--json":
			opts.JSON = true

		case "--no-synthesis":
			opts.NoSynthesis = true

		case "--import":
			if i+1 >= len(args) {
				return config.Config{}, opts, fmt.Errorf("--import requires a path argument")
			}
			i++
			opts.ImportPath = args[i]

		case "--cache-status":
			opts.CacheStatus = true

		case "--config", "-c":
			i++

		default:
			if len(arg) > 0 && arg[0] == '-' {
				return config.Config{}, opts, fmt.Errorf("unknown flag: %s", arg)
			}
			queryParts = append(queryParts, arg)
		}
	}

	opts.Query = strings.Join(queryParts, " ")

	return cfg, opts, nil
}

// initConfigFile creates a new config file with default values
func initConfigFile() error {
	path := config.GetDefaultConfigPath()

	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config file already exists at: %s\n", path)
		fmt.Println("Delete it first if you want to recreate it.")
		os.Exit(0)
	}

	cfg := config.DefaultConfig()

	if err := config.SaveConfigFile(cfg, path); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	fmt.Printf("Created default config file at: %s\n", path)
	fmt.Println("\nYou can now edit this file to customize your settings.")
	fmt.Println("Available options:")
	fmt.Println("  mode: auto, full_audio, metadata_only, descriptor_only")
	fmt.Println("  cache_dir: where audio and results are cached")
	fmt.Println("  min_confidence / short_circuit_confidence: candidate ranking thresholds")
	fmt.Println("  youtube_api_key, spotify_client_id, ...: provider credentials (or use env vars)")
	fmt.Println("  lyrics_enabled / asr_fallback: lyric retrieval behavior")
	fmt.Println("  verbose: true/false (enable detailed logging)")

	os.Exit(0)
	return nil
}

// printUsage displays the help message
func printUsage() {
	fmt.Println("songlisten - Resolve a song request and describe how the track sounds")
	fmt.Println()
	fmt.Println("Usage: songlisten [options] <query>")
	fmt.Println()
	fmt.Println("The query is free text: a title, \"Artist - Title\", or a phrase like")
	fmt.Println("\"listen to this song Good News by Mac Miller\".")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -v, --verbose              Show detailed output")
	fmt.Println("  -m, --mode <mode>          auto, full_audio, metadata_only or descriptor_only (default: auto)")
	fmt.Println("  -c, --config <path>        Path to config file")
	fmt.Println("  --json                     Print the full result as JSON")
	fmt.Println("  --no-synthesis             Skip the listening notes, print only the track summary")
	fmt.Println("  --import <path>            Import a local audio file or directory into the cache and exit")
	fmt.Println("  --cache-status             Report cache state for the query instead of running it")
	fmt.Println("  -h, --help                 Show this help message")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println("  --init-config              Create a default config file")
	fmt.Println()
	fmt.Println("Config file locations (checked in order):")
	fmt.Println("  ./songlisten.yaml")
	fmt.Println("  ~/.config/songlisten/config.yaml")
	fmt.Println("  ~/.songlisten.yaml")
	fmt.Println()
	fmt.Println("Logging:")
	fmt.Println("  Normal mode: Progress display shown, detailed logs saved to:")
	fmt.Println("    ~/.local/share/songlisten/logs/")
	fmt.Println("  Verbose mode: All output to stdout, no progress display, no file logging")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Describe a song (auto mode: audio analysis with graceful fallback)")
	fmt.Println("  songlisten \"good news by mac miller\"")
	fmt.Println()
	fmt.Println("  # Metadata only, as JSON")
	fmt.Println("  songlisten -m metadata_only --json \"Mac Miller - Good News\"")
	fmt.Println()
	fmt.Println("  # Import local files so later queries resolve offline")
	fmt.Println("  songlisten --import ~/Music/rips")
	fmt.Println()
	fmt.Println("  # Check what is already cached for a query")
	fmt.Println("  songlisten --cache-status \"good news by mac miller\"")
	fmt.Println()
	fmt.Println("  # Create a config file to persist settings")
	fmt.Println("  songlisten --init-config")
}
