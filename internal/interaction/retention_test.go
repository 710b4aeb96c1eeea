package interaction

import (
	"context"
	"testing"
	"time"

	"github.com/sackio/unibrowse-sub002/api/schemas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRetentionSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	l := NewLog(zap.NewNop())
	seed(t, l,
		ev("click", "https://a.test", now.Add(-3*time.Hour).UnixMilli()),
		ev("click", "https://a.test", now.Add(-2*time.Hour).UnixMilli()),
		ev("click", "https://a.test", now.Add(-30*time.Minute).UnixMilli()),
		ev("click", "https://a.test", now.UnixMilli()),
	)

	core, logs := observer.New(zap.InfoLevel)
	r := NewRetention(l, "@hourly", time.Hour, zap.New(core))
	r.now = func() time.Time { return now }

	removed, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, []int64{3, 4}, allIDs(t, l))
	assert.Equal(t, 1, logs.FilterMessage("Retention sweep removed interactions.").Len())

	removed, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed, "sweeping twice removes nothing new")
}

func TestRetentionSchedule(t *testing.T) {
	t.Run("rejects an invalid schedule", func(t *testing.T) {
		r := NewRetention(NewLog(zap.NewNop()), "every now and then", time.Hour, zap.NewNop())
		err := r.Start()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid retention schedule")
	})

	t.Run("runs sweeps on schedule until stopped", func(t *testing.T) {
		l := NewLog(zap.NewNop())
		seed(t, l, schemas.InteractionEvent{Type: "click", URL: "https://a.test", Timestamp: 1})

		r := NewRetention(l, "@every 1s", time.Minute, zap.NewNop())
		require.NoError(t, r.Start())
		defer r.Stop()

		assert.Eventually(t, func() bool { return l.Len() == 0 }, 5*time.Second, 50*time.Millisecond)
	})
}
