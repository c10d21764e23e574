package models

import "testing"

func TestTerminalRunStatus(t *testing.T) {
	cases := []struct {
		created, failed int
		want            string
	}{
		{3, 0, RunCompleted},
		{0, 3, RunFailed},
		{2, 1, RunPartial},
		{1, 1, RunPartial},
		{0, 0, RunCompleted}, // empty run: nothing failed
	}
	for _, c := range cases {
		if got := TerminalRunStatus(c.created, c.failed); got != c.want {
			t.Errorf("TerminalRunStatus(%d, %d) = %q, want %q", c.created, c.failed, got, c.want)
		}
	}
}
