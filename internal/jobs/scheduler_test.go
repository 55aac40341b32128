package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_InvalidSchedule(t *testing.T) {
	sched := NewScheduler(newTestJob(newFakeGroups(), newFakeStore()))
	defer sched.Stop()

	err := sched.Start("every now and then")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid sync schedule")
	assert.Empty(t, sched.Schedule())
}

func TestScheduler_Reschedule(t *testing.T) {
	sched := NewScheduler(newTestJob(newFakeGroups(), newFakeStore()))
	defer sched.Stop()

	require.NoError(t, sched.Start("*/15 * * * *"))
	assert.Equal(t, "*/15 * * * *", sched.Schedule())
	first := sched.entry

	require.NoError(t, sched.Reschedule("*/15 * * * *"))
	assert.Equal(t, first, sched.entry, "unchanged schedule keeps the entry")

	require.NoError(t, sched.Reschedule("0 * * * *"))
	assert.Equal(t, "0 * * * *", sched.Schedule())
	assert.NotEqual(t, first, sched.entry)
	assert.Len(t, sched.cron.Entries(), 1)

	require.Error(t, sched.Reschedule("bogus"))
	assert.Equal(t, "0 * * * *", sched.Schedule())
}

func TestScheduler_RunsSyncAll(t *testing.T) {
	s := newFakeStore(100)
	sched := NewScheduler(newTestJob(newFakeGroups(), s))

	require.NoError(t, sched.Start("@every 1s"))
	assert.Eventually(t, func() bool { return s.runCount() > 0 }, 5*time.Second, 50*time.Millisecond)
	sched.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, TriggerSchedule, s.runs[0].TriggeredBy)
}
