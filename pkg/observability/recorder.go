package observability

// Recorder receives engine and store events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// RunFinished records one completed Run call. status is "completed",
	// "failed", or "cache_hit"; seconds is wall time including staging.
	RunFinished(stepName, status string, seconds float64)

	// ObjectCommitted records one object committed to the store, labeled by
	// kind (blob, tree, run).
	ObjectCommitted(kind string)

	// LineageQuery records one lineage lookup, labeled by operation
	// (who_built, trace).
	LineageQuery(op string)
}

// Run statuses reported to RunFinished.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCacheHit  = "cache_hit"
)

type nopRecorder struct{}

func (nopRecorder) RunFinished(string, string, float64) {}
func (nopRecorder) ObjectCommitted(string)              {}
func (nopRecorder) LineageQuery(string)                 {}

// Nop returns a Recorder that discards everything.
func Nop() Recorder {
	return nopRecorder{}
}
