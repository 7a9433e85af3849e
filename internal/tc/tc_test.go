package tc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montytest/worker/internal/bench"
)

func TestParseSuddenDeath(t *testing.T) {
	c, err := Parse("8+0.08")
	require.NoError(t, err)
	assert.Equal(t, 0, c.Moves)
	assert.Equal(t, 8.0, c.Base)
	assert.Equal(t, 0.08, c.Increment)
}

func TestParseMinutesSeconds(t *testing.T) {
	c, err := Parse("10:30")
	require.NoError(t, err)
	assert.Equal(t, 630.0, c.Base)
	assert.Equal(t, 0.0, c.Increment)
}

func TestParseMovesPerSession(t *testing.T) {
	c, err := Parse("40/60+0.5")
	require.NoError(t, err)
	assert.Equal(t, 40, c.Moves)
	assert.Equal(t, 60.0, c.Base)
	assert.Equal(t, 0.5, c.Increment)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("not-a-tc")
	assert.Error(t, err)
}

func TestScaleSuddenDeath(t *testing.T) {
	c, err := Parse("60+0.5")
	require.NoError(t, err)
	s := Scale(c, 2.0)
	assert.Equal(t, "120.000+1.000", s.TC)
	assert.InDelta(t, 60*2*3+0.5*2*200, s.Limit, 1e-9)
}

func TestScaleMovesPerSession(t *testing.T) {
	c, err := Parse("40/60")
	require.NoError(t, err)
	s := Scale(c, 1.0)
	assert.Equal(t, "40/60.000", s.TC)
	assert.InDelta(t, 60*3*100.0/40, s.Limit, 1e-9)
}

func TestFactorIsInverseOfNPS(t *testing.T) {
	f := Factor(bench.BaselineNPS)
	assert.InDelta(t, 1.0, f, 1e-9)
}

func TestFactorHandlesZeroNPS(t *testing.T) {
	assert.Equal(t, 1.0, Factor(0))
}

func TestMeanLimitAverages(t *testing.T) {
	a := Scaled{Limit: 10}
	b := Scaled{Limit: 20}
	assert.Equal(t, 15.0, MeanLimit(a, b))
}
