package temporal

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/efebarandurmaz/sage/internal/ingest"
	"github.com/efebarandurmaz/sage/internal/observability"
)

// Dependencies holds shared resources injected into activities.
type Dependencies struct {
	Pipeline *ingest.Pipeline
}

var deps *Dependencies

// SetDependencies injects shared resources (called during worker setup).
func SetDependencies(d *Dependencies) {
	deps = d
}

// IngestActivity runs one incremental ingestion pass over the corpus.
func IngestActivity(ctx context.Context, input IngestInput) (IngestResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("starting ingestion", "corpus", input.CorpusDir, "subject", input.Subject)

	started := time.Now()
	stats, err := deps.Pipeline.Run(ctx)
	observability.Metrics().RecordIngestRun(time.Since(started),
		stats.Processed, stats.Skipped, stats.Deleted, stats.Indexed, err)
	if err != nil {
		return IngestResult{}, err
	}

	return IngestResult{
		Scanned:   stats.Scanned,
		Processed: stats.Processed,
		Skipped:   stats.Skipped,
		Deleted:   stats.Deleted,
		Unchanged: stats.Unchanged,
		Indexed:   stats.Indexed,
	}, nil
}
