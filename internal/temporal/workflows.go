package temporal

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// IngestInput holds the workflow parameters. Paths and model names come from
// configuration; the worker owns the wired pipeline.
type IngestInput struct {
	CorpusDir string
	Subject   string
}

// IngestResult mirrors the pipeline stats so schedules can inspect runs.
type IngestResult struct {
	Scanned   int
	Processed int
	Skipped   int
	Deleted   int
	Unchanged int
	Indexed   int
}

// IngestWorkflow runs one incremental ingestion pass. The pipeline is
// idempotent (deterministic chunk identities, manifest saved last), so
// Temporal's at-least-once activity retries are safe: a retried run simply
// re-deletes and re-upserts the same points.
func IngestWorkflow(ctx workflow.Context, input IngestInput) (*IngestResult, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: 10 * time.Second,
			MaximumInterval: 5 * time.Minute,
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var result IngestResult
	if err := workflow.ExecuteActivity(ctx, IngestActivity, input).Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	return &result, nil
}
