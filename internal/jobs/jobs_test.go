package jobs

import (
	"testing"

	"github.com/mediaforge/mediaforge/internal/models"
)

func TestPriorityToQueue_MapsBandsToWeightedQueues(t *testing.T) {
	cases := map[int]string{
		models.PriorityCritical:        "critical",
		models.PriorityHighScan:        "high",
		models.PriorityHighNotify:      "high",
		models.PriorityNormalLow:       "default",
		models.PriorityNormalHigh:      "default",
		models.PriorityLowNotify:       "low",
		models.PriorityLowGC:           "low",
	}
	for priority, want := range cases {
		if got := priorityToQueue(priority); got != want {
			t.Fatalf("priorityToQueue(%d) = %q, want %q", priority, got, want)
		}
	}
}

func TestIsTaskConflict_MatchesKnownConflictMessages(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"task ID conflicts with another task", true},
		{"duplicate task detected", true},
		{"some unrelated redis error", false},
	}
	for _, c := range cases {
		if got := isTaskConflict(fmtErr(c.msg)); got != c.want {
			t.Fatalf("isTaskConflict(%q) = %v, want %v", c.msg, got, c.want)
		}
	}
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func fmtErr(s string) error { return simpleErr(s) }
