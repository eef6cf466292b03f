// Package provider groups the per-service clients the pipeline draws on.
//
// Interfaces live with their consumers: discovery defines Searcher,
// retrieval defines Fetcher, and descriptor defines its source
// interfaces. Each sub-package implements whichever surfaces its
// service supports; ytdlp and jamendo both search and fetch audio,
// the others contribute candidates or descriptor signals only.
package provider
