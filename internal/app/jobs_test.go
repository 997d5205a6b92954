package app

import (
	"testing"

	"github.com/leadflow/deal-service/internal/domain"
)

func TestBackfillManagersJob(t *testing.T) {
	repo, backfiller := newBackfillFixture(t, domain.SourceTwo, domain.SourceThree)
	jobs := NewJobs(backfiller, 10, testLogger())

	jobs.BackfillManagers()

	m1, _ := repo.Manager(1)
	m2, _ := repo.Manager(2)
	m3, _ := repo.Manager(3)
	if total := m1.DealsCount + m2.DealsCount + m3.DealsCount; total != 2 {
		t.Fatalf("expected 2 assignments, got %d", total)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		entries  int
	}{
		{name: "disabled", schedule: "  ", entries: 0},
		{name: "valid", schedule: "*/15 * * * *", entries: 1},
		{name: "invalid", schedule: "not a schedule", entries: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, backfiller := newBackfillFixture(t)
			scheduler := NewScheduler(NewJobs(backfiller, 10, testLogger()), testLogger(), tc.schedule)

			scheduler.Start()
			if got := len(scheduler.cron.Entries()); got != tc.entries {
				t.Fatalf("expected %d entries, got %d", tc.entries, got)
			}
			<-scheduler.Stop().Done()
		})
	}
}
