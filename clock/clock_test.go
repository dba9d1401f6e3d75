package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rterrors "github.com/baxromumarov/taskrt/errors"
)

func TestManualClock(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewManual(start)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start.Add(time.Second), c.Advance(time.Second))
	assert.Equal(t, time.Second, Since(c, start))

	later := start.Add(time.Hour)
	c.Set(later)
	assert.Equal(t, later, c.Now())
}

func TestSystemClockZone(t *testing.T) {
	loc := time.FixedZone("X", 3*3600)
	now := System(loc).Now()

	assert.Equal(t, loc, now.Location())
	assert.WithinDuration(t, time.Now(), now, time.Second)

	assert.Equal(t, time.Local, System(nil).Now().Location())
}

func TestLoadZone(t *testing.T) {
	loc, err := LoadZone("")
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	loc, err = LoadZone("UTC")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	_, err = LoadZone("Mars/Olympus_Mons")
	require.Error(t, err)
	assert.True(t, rterrors.IsCode(err, rterrors.ErrCodeParse))
}
