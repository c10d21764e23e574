package models

// TerminalRunStatus decides the terminal status for a run whose jobs
// have all left pending/processing: completed when everything
// succeeded, failed when nothing did, partial for a mix.
func TerminalRunStatus(created, failed int) string {
	switch {
	case failed == 0:
		return RunCompleted
	case created == 0:
		return RunFailed
	default:
		return RunPartial
	}
}
