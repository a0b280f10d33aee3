package store

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-soundcheck/internal/analysis"
	"github.com/teslashibe/go-soundcheck/internal/doa"
	"github.com/teslashibe/go-soundcheck/internal/score"
)

func openMem(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func qualityReport(id string, at time.Time) analysis.Report {
	return analysis.Report{
		ID:        id,
		Kind:      analysis.KindQuality,
		CreatedAt: at,
		Quality: &analysis.QualityReport{
			File:          id + ".wav",
			Status:        "ok",
			OffsetSamples: 800,
			Gain:          3.33,
			Scores:        map[string]score.Value{"snr": score.Value(math.Inf(1)), "rmse": 0.01},
		},
	}
}

func TestStore_PutGet(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Put(ctx, qualityReport("q1", at)))

	got, err := s.Get(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, analysis.KindQuality, got.Kind)
	assert.True(t, got.CreatedAt.Equal(at))
	require.NotNil(t, got.Quality)
	assert.Equal(t, 800, got.Quality.OffsetSamples)
	assert.True(t, math.IsInf(float64(got.Quality.Scores["snr"]), 1))
	assert.Nil(t, got.DOA)
}

func TestStore_DOAReport(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()

	rep := analysis.Report{
		ID:   "d1",
		Kind: analysis.KindDOA,
		DOA: &analysis.DOAReport{
			File:   "ssl.wav",
			Status: "ok",
			Blocks: []doa.BlockStats{
				{Start: 100, Samples: 2000, DurationSec: 0.125, MeanDeg: -1.8, PoleDiffDeg: 15, Wrapped: true},
			},
			Evaluation: &doa.Evaluation{DominantAzimuth: 359, Sector: 1},
		},
	}
	require.NoError(t, s.Put(ctx, rep))

	got, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, got.DOA.Blocks, 1)
	assert.Equal(t, rep.DOA.Blocks[0], got.DOA.Blocks[0])
	assert.Equal(t, 359, got.DOA.Evaluation.DominantAzimuth)
}

func TestStore_GetMissing(t *testing.T) {
	s := openMem(t)
	_, err := s.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_List(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	reps := []analysis.Report{
		qualityReport("a", base),
		qualityReport("b", base.Add(2*time.Minute)),
		{ID: "c", Kind: analysis.KindDOA, CreatedAt: base.Add(time.Minute), DOA: &analysis.DOAReport{Status: "ok"}},
	}
	require.NoError(t, s.PutAll(ctx, reps))

	all, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	quality, err := s.List(ctx, Filter{Kind: analysis.KindQuality, Limit: 1})
	require.NoError(t, err)
	require.Len(t, quality, 1)
	assert.Equal(t, "b", quality[0].ID)
}

func TestStore_Delete(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, qualityReport("x", time.Now())))
	require.NoError(t, s.Delete(ctx, "x"))
	_, err := s.Get(ctx, "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_PutRequiresID(t *testing.T) {
	s := openMem(t)
	assert.Error(t, s.Put(context.Background(), analysis.Report{}))
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open(Options{}, nil)
	assert.Error(t, err)
}

func TestStore_OnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(Options{Dir: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, qualityReport("persist", time.Now())))
	require.NoError(t, s.Ping())
	require.NoError(t, s.Close())

	s, err = Open(Options{Dir: dir}, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(ctx, "persist")
	assert.NoError(t, err)
}
