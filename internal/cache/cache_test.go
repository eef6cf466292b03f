package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"songlisten/internal/logger"
	"songlisten/internal/track"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache"), logger.New(false))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestQueryKeyNormalization(t *testing.T) {
	assert.Equal(t, QueryKey("Mac Miller Good News"), QueryKey("  mac   miller GOOD news "))
	assert.NotEqual(t, QueryKey("mac miller good news"), QueryKey("mac miller bad news"))

	// Identity keys are exact: external ids are case sensitive.
	assert.NotEqual(t, IdentityKey("ytdlp:AbC"), IdentityKey("ytdlp:abc"))
}

func TestResultKeyQualifiers(t *testing.T) {
	id := "ytdlp:abc123"
	keys := map[string]string{
		"feature":    FeatureKey(id),
		"descriptor": DescriptorKey(id),
		"lyrics":     LyricsKey(id),
	}
	seen := map[string]string{}
	for name, key := range keys {
		if prev, dup := seen[key]; dup {
			t.Fatalf("%s and %s derive the same key", name, prev)
		}
		seen[key] = name
	}
}

func TestPutGetRoundtrip(t *testing.T) {
	s := newStore(t)

	in := []track.Candidate{
		{Provider: "ytdlp", ID: "abc", Title: "Good News", Confidence: 0.9, Retrievable: true},
		{Provider: "musicbrainz", ID: "mbid-1", Title: "Good News", Confidence: 0.7},
	}
	key := QueryKey("mac miller good news")
	require.NoError(t, s.PutJSON(KindCandidates, key, in))

	var out []track.Candidate
	ok, err := s.GetJSON(KindCandidates, key, &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, in, out)
}

func TestGetFreshTTL(t *testing.T) {
	s := newStore(t)
	key := QueryKey("abc")
	require.NoError(t, s.Put(KindCandidates, key, []byte("payload")))

	_, ok, err := s.GetFresh(KindCandidates, key, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	// A non-positive ttl never matches, even for a just-written entry.
	_, ok, err = s.GetFresh(KindCandidates, key, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutIdempotentAndLastWriterWins(t *testing.T) {
	s := newStore(t)
	key := IdentityKey("ytdlp:abc")

	require.NoError(t, s.Put(KindResult, key, []byte(`{"tempo_bpm":100}`)))
	require.NoError(t, s.Put(KindResult, key, []byte(`{"tempo_bpm":100}`)))

	// Different content for the same key is logged, not fatal; the most
	// recent write wins.
	require.NoError(t, s.Put(KindResult, key, []byte(`{"tempo_bpm":120}`)))
	payload, ok, err := s.Get(KindResult, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"tempo_bpm":120}`, string(payload))
}

func TestHasAndStatus(t *testing.T) {
	s := newStore(t)
	key := QueryKey("status check")

	ok, err := s.Has(KindCandidates, key)
	require.NoError(t, err)
	assert.False(t, ok)

	info, err := s.Status(KindCandidates, key)
	require.NoError(t, err)
	assert.False(t, info.Present)

	require.NoError(t, s.Put(KindCandidates, key, []byte("0123456789")))

	ok, err = s.Has(KindCandidates, key)
	require.NoError(t, err)
	assert.True(t, ok)

	info, err = s.Status(KindCandidates, key)
	require.NoError(t, err)
	assert.True(t, info.Present)
	assert.Equal(t, int64(10), info.SizeBytes)
	assert.GreaterOrEqual(t, info.Age, time.Duration(0))
	assert.Less(t, info.Age, time.Minute)
}

func TestAudioRoundtrip(t *testing.T) {
	s := newStore(t)
	key := IdentityKey("ytdlp:abc")

	src := filepath.Join(t.TempDir(), "a.wav")
	require.NoError(t, os.WriteFile(src, []byte("RIFFdata"), 0644))

	dest, err := s.PutAudio(key, src, "wav")
	require.NoError(t, err)
	assert.FileExists(t, dest)

	path, format, ok, err := s.GetAudio(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, dest, path)
	assert.Equal(t, "wav", format)

	// Indexing the store's own destination a second time is a no-op copy.
	again, err := s.PutAudio(key, dest, "wav")
	require.NoError(t, err)
	assert.Equal(t, dest, again)
}

func TestGetAudioMissingFile(t *testing.T) {
	s := newStore(t)
	key := IdentityKey("ytdlp:gone")

	src := filepath.Join(t.TempDir(), "a.wav")
	require.NoError(t, os.WriteFile(src, []byte("RIFFdata"), 0644))
	dest, err := s.PutAudio(key, src, "wav")
	require.NoError(t, err)

	require.NoError(t, os.Remove(dest))

	_, _, ok, err := s.GetAudio(key)
	require.NoError(t, err)
	assert.False(t, ok, "an index row whose file vanished counts as absent")
}
