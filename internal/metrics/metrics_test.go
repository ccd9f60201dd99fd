package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"xtbridge/internal/bar"
)

func TestMetrics_InstanceCountersIsolated(t *testing.T) {
	ResetGlobal()
	a := New()
	b := New()

	a.IncPublished()
	a.IncDedupHit()
	b.IncPublishFail()

	assert.Equal(t, int64(1), a.Snapshot()["published"])
	assert.Equal(t, int64(1), a.Snapshot()["dedup_hit"])
	assert.Equal(t, int64(0), b.Snapshot()["published"])
	assert.Equal(t, int64(1), b.Snapshot()["publish_fail"])
}

func TestMetrics_IncPublishedBumpsGlobal(t *testing.T) {
	ResetGlobal()
	m := New()
	m.IncPublished()
	m.IncPublished()
	assert.Equal(t, int64(2), SnapshotGlobal()["bars_published_total"])
}

func TestMaybeMarkLate_FlagsOldBar(t *testing.T) {
	ResetGlobal()
	old := bar.FormatCN(time.Now().In(bar.CNLocation).Add(-time.Hour))
	MaybeMarkLate(old, time.Second)
	assert.Equal(t, int64(1), SnapshotGlobal()["late_bars_total"])
}

func TestMaybeMarkLate_IgnoresFreshBar(t *testing.T) {
	ResetGlobal()
	fresh := bar.FormatCN(time.Now().In(bar.CNLocation))
	MaybeMarkLate(fresh, time.Minute)
	assert.Equal(t, int64(0), SnapshotGlobal()["late_bars_total"])
}

func TestMaybeMarkLate_IgnoresUnparseableTimestamp(t *testing.T) {
	ResetGlobal()
	MaybeMarkLate("not-a-timestamp", time.Second)
	assert.Equal(t, int64(0), SnapshotGlobal()["late_bars_total"])
}
