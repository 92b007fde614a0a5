package types

import (
	"testing"
	"time"

	"github.com/rxtech-lab/argo-playbook/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeframeDuration(t *testing.T) {
	tests := []struct {
		timeframe Timeframe
		want      time.Duration
	}{
		{TimeframeM1, time.Minute},
		{TimeframeM5, 5 * time.Minute},
		{TimeframeM15, 15 * time.Minute},
		{TimeframeM30, 30 * time.Minute},
		{TimeframeH1, time.Hour},
		{TimeframeH4, 4 * time.Hour},
		{TimeframeD1, 24 * time.Hour},
		{TimeframeW1, 7 * 24 * time.Hour},
		{Timeframe("15min"), 0},
		{Timeframe(""), 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.timeframe), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.timeframe.Duration())
		})
	}
}

func TestTimeframeIsValid(t *testing.T) {
	for _, tf := range AllTimeframes() {
		assert.True(t, tf.IsValid(), "expected %s to be valid", tf)
	}

	assert.False(t, Timeframe("15min").IsValid())
	assert.False(t, Timeframe("m15").IsValid())
	assert.False(t, Timeframe("").IsValid())
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("M15")
	require.NoError(t, err)
	assert.Equal(t, TimeframeM15, tf)

	_, err = ParseTimeframe("15min")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidTimeframe))
}

func TestAllTimeframesAscending(t *testing.T) {
	timeframes := AllTimeframes()
	require.NotEmpty(t, timeframes)

	for i := 1; i < len(timeframes); i++ {
		assert.Greater(t, timeframes[i].Duration(), timeframes[i-1].Duration(),
			"expected %s to be longer than %s", timeframes[i], timeframes[i-1])
	}
}
