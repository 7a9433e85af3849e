package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestGamesPlayedIncrementsByLabel(t *testing.T) {
	before := testutil.ToFloat64(GamesPlayed.WithLabelValues("match", "win"))
	GamesPlayed.WithLabelValues("match", "win").Inc()
	after := testutil.ToFloat64(GamesPlayed.WithLabelValues("match", "win"))
	assert.Equal(t, before+1, after)
}

func TestCacheHitsAndMissesAreIndependentCounters(t *testing.T) {
	beforeHits := testutil.ToFloat64(CacheHits)
	beforeMisses := testutil.ToFloat64(CacheMisses)
	CacheHits.Inc()
	assert.Equal(t, beforeHits+1, testutil.ToFloat64(CacheHits))
	assert.Equal(t, beforeMisses, testutil.ToFloat64(CacheMisses))
}

func TestMeasuredNPSGaugeSetsByRevision(t *testing.T) {
	MeasuredNPS.WithLabelValues("deadbeef").Set(123456)
	assert.Equal(t, float64(123456), testutil.ToFloat64(MeasuredNPS.WithLabelValues("deadbeef")))
}
