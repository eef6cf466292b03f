package pipeline

import (
	"songlisten/internal/analysis"
	"songlisten/internal/cache"
	"songlisten/internal/config"
	"songlisten/internal/descriptor"
	"songlisten/internal/discovery"
	"songlisten/internal/logger"
	"songlisten/internal/lyrics"
	"songlisten/internal/provider/acousticbrainz"
	"songlisten/internal/provider/deezer"
	"songlisten/internal/provider/itunes"
	"songlisten/internal/provider/jamendo"
	"songlisten/internal/provider/musicbrainz"
	"songlisten/internal/provider/spotify"
	"songlisten/internal/provider/youtube"
	"songlisten/internal/provider/ytdlp"
	"songlisten/internal/retrieval"
)

// Assemble wires the default provider set into a Pipeline around one
// cache store. Providers missing credentials stay out of discovery; the
// keyless catalogs always participate. yt-dlp leads audio attempts.
func Assemble(store *cache.Store, log *logger.Logger, cfg config.Config) *Pipeline {
	ytdlpClient := ytdlp.New(cfg, log)
	mb := musicbrainz.New()
	dz := deezer.New()

	searchers := []discovery.Searcher{ytdlpClient}
	if cfg.YouTubeAPIKey != "" {
		searchers = append(searchers, youtube.New(cfg.YouTubeAPIKey))
	}
	if cfg.SpotifyClientID != "" && cfg.SpotifyClientSecret != "" {
		searchers = append(searchers, spotify.New(cfg.SpotifyClientID, cfg.SpotifyClientSecret))
	}

	retriever := retrieval.New(store, log, cfg)
	retriever.Register(ytdlpClient.Name(), ytdlpClient)
	if cfg.JamendoClientID != "" {
		jam := jamendo.New(cfg.JamendoClientID)
		searchers = append(searchers, jam)
		retriever.Register(jam.Name(), jam)
	}

	searchers = append(searchers, itunes.New(), mb, dz)

	var asr lyrics.Transcriber
	if cfg.ASRFallback {
		asr = lyrics.NewASR(cfg.ASRBinary, log)
	}

	deps := Deps{
		Discovery:  discovery.NewResolver(searchers, store, log, cfg),
		Retrieval:  retriever,
		Analysis:   analysis.New(store, log, cfg),
		Descriptor: descriptor.New(mb, acousticbrainz.New(), dz, store, log, cfg),
		Lyrics:     lyrics.NewFetcher(lyrics.NewClient(), asr, store, log, cfg),
		Insight:    lyrics.NewAnalyzer(store, log),
		Primary:    ytdlpClient.Name(),
	}

	return New(deps, store, log, cfg)
}
