package scheduler

import (
	"testing"
)

func TestAddJobValidatesExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddJob("sweep", "*/5 * * * *", func() {}); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if err := s.AddJob("broken", "not a cron expr", func() {}); err == nil {
		t.Error("invalid expression accepted")
	}
	if got := s.JobCount(); got != 1 {
		t.Errorf("JobCount = %d, want 1 (rejected job must not register)", got)
	}
}
