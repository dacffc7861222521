package streams

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/lockstep/internal/core"
	"github.com/avolkov/lockstep/internal/domain"
)

var errFake = errors.New("unlock refused")

// fakeResolver serves a fixed candidate list and unlocks only the
// sources listed in playable.
type fakeResolver struct {
	candidates []core.StreamCandidate
	playable   map[string]string // source title -> url
	unlocks    []string
}

func (f *fakeResolver) Candidates(_ context.Context, _ domain.MediaItem) ([]core.StreamCandidate, error) {
	return f.candidates, nil
}

func (f *fakeResolver) Unlock(_ context.Context, c core.StreamCandidate) (string, error) {
	f.unlocks = append(f.unlocks, c.SourceTitle)
	if url, ok := f.playable[c.SourceTitle]; ok {
		return url, nil
	}
	return "", errFake
}

func media() domain.MediaItem {
	return domain.MediaItem{Title: "Show", Season: 1, Episode: 3}
}

func TestArbiter_PreferredCandidateWins(t *testing.T) {
	r := &fakeResolver{
		candidates: []core.StreamCandidate{
			{SourceTitle: "clean-1080p", InfoHash: "aaa"},
			{SourceTitle: "dubbed-720p", Deprioritized: true},
		},
		playable: map[string]string{"clean-1080p": "http://cdn/clean"},
	}

	sel, err := NewArbiter(r).Resolve(context.Background(), media())

	require.NoError(t, err)
	assert.Equal(t, "clean-1080p", sel.SourceTitle)
	assert.Equal(t, "http://cdn/clean", sel.URL)
	assert.Equal(t, []string{"clean-1080p"}, r.unlocks, "fallback tier untouched")
}

func TestArbiter_FallsBackToDeprioritizedSet(t *testing.T) {
	r := &fakeResolver{
		candidates: []core.StreamCandidate{
			{SourceTitle: "fake-release-1"},
			{SourceTitle: "fake-release-2"},
			{SourceTitle: "dubbed-720p", Deprioritized: true},
		},
		playable: map[string]string{"dubbed-720p": "http://cdn/dubbed"},
	}

	sel, err := NewArbiter(r).Resolve(context.Background(), media())

	require.NoError(t, err)
	assert.Equal(t, "dubbed-720p", sel.SourceTitle)
	assert.Equal(t, []string{"fake-release-1", "fake-release-2", "dubbed-720p"}, r.unlocks,
		"every preferred candidate tried before the fallback tier")
}

func TestArbiter_AllExhaustedIsExplicitFailure(t *testing.T) {
	r := &fakeResolver{
		candidates: []core.StreamCandidate{
			{SourceTitle: "fake-1"},
			{SourceTitle: "fake-2", Deprioritized: true},
		},
		playable: map[string]string{},
	}

	_, err := NewArbiter(r).Resolve(context.Background(), media())

	assert.ErrorIs(t, err, ErrNoPlayableStream)
}

func TestArbiter_SelectionAlwaysCarriesSourceTitle(t *testing.T) {
	r := &fakeResolver{
		candidates: []core.StreamCandidate{
			// Some resolvers return no info hash at all.
			{SourceTitle: "hashless-release"},
		},
		playable: map[string]string{"hashless-release": "http://cdn/x"},
	}

	sel, err := NewArbiter(r).Resolve(context.Background(), media())

	require.NoError(t, err)
	assert.Empty(t, sel.InfoHash)
	assert.Equal(t, "hashless-release", sel.SourceTitle, "title is the fallback matching key")
}

func TestMatchBroadcast(t *testing.T) {
	cands := []core.StreamCandidate{
		{SourceTitle: "release-a", InfoHash: "aaa", FileIndex: 2},
		{SourceTitle: "release-b", InfoHash: "bbb"},
		{SourceTitle: "hashless-release"},
	}

	tests := []struct {
		name      string
		sel       domain.StreamSelection
		wantTitle string
		wantOK    bool
	}{
		{
			name:      "hash match",
			sel:       domain.StreamSelection{InfoHash: "aaa", FileIndex: 2},
			wantTitle: "release-a",
			wantOK:    true,
		},
		{
			name:      "missing hash falls back to title",
			sel:       domain.StreamSelection{SourceTitle: "hashless-release"},
			wantTitle: "hashless-release",
			wantOK:    true,
		},
		{
			name:      "unknown hash falls back to title",
			sel:       domain.StreamSelection{InfoHash: "zzz", SourceTitle: "release-b"},
			wantTitle: "release-b",
			wantOK:    true,
		},
		{
			name:   "nothing matches",
			sel:    domain.StreamSelection{SourceTitle: "never-heard-of-it"},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := MatchBroadcast(tt.sel, cands)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantTitle, c.SourceTitle)
			}
		})
	}
}

func TestArbiter_AdoptBroadcastUnlocksLocally(t *testing.T) {
	r := &fakeResolver{
		candidates: []core.StreamCandidate{
			{SourceTitle: "release-a", InfoHash: "aaa"},
		},
		playable: map[string]string{"release-a": "http://cdn/mine"},
	}

	// Host descriptor without a usable URL for us.
	sel, err := NewArbiter(r).AdoptBroadcast(context.Background(),
		domain.StreamSelection{InfoHash: "aaa", SourceTitle: "release-a"}, media())

	require.NoError(t, err)
	assert.Equal(t, "http://cdn/mine", sel.URL)
}

func TestArbiter_AdoptBroadcastKeepsHostURL(t *testing.T) {
	r := &fakeResolver{}

	sel, err := NewArbiter(r).AdoptBroadcast(context.Background(),
		domain.StreamSelection{SourceTitle: "release-a", URL: "http://cdn/host"}, media())

	require.NoError(t, err)
	assert.Equal(t, "http://cdn/host", sel.URL)
	assert.Empty(t, r.unlocks, "no local resolution needed")
}
