package chatsync

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/casechat/internal/chatcache"
	"github.com/tOgg1/casechat/internal/models"
	"github.com/tOgg1/casechat/internal/testutil"
)

func TestMetricsRecordSyncActivity(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	svc := testutil.NewFakeService(self)
	svc.Seed(dms(1, 3)...)
	store := chatcache.New(self)
	cursor := NewSyncCursor(Cursor{})
	reconciler := NewReconciler(store, cursor, m)
	p := NewPoller(PollerConfig{}, svc, store, cursor, reconciler, nil, nil, m)

	require.NoError(t, p.Tick(context.Background()))
	reconciler.Apply(Batch{New: []models.Message{dm(4), dm(4)}})

	assert.Equal(t, float64(4), promtest.ToFloat64(m.Reconciled.WithLabelValues("new")))
	assert.Equal(t, float64(1), promtest.ToFloat64(m.Reconciled.WithLabelValues("duplicate")))
	assert.Equal(t, float64(1), promtest.ToFloat64(m.Ticks.WithLabelValues("ok")))
	assert.Equal(t, float64(3), promtest.ToFloat64(m.CachedMessage))

	count, err := promtest.GatherAndCount(reg, "casechat_sync_poll_ticks_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNilMetricsAreInert(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.tick("ok", 1)
		m.skipped()
		m.reconciled("new", 1)
		m.send("ok")
		m.markRead("ok")
		m.page()
		m.cache(1, 1)
	})
}
