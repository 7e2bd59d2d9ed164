// Package orchestrate turns row text into vectors and persists them as
// vector columns, batch by batch, isolating per-row failures from the
// operation as a whole.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/garyhukkeri/vectab/internal/embed"
	"github.com/garyhukkeri/vectab/internal/storage"
	"github.com/garyhukkeri/vectab/internal/tabular"
)

// Sentinel errors for embedding generation.
var (
	ErrInvalidField   = errors.New("invalid source field")
	ErrColumnConflict = errors.New("vector column conflict")
)

// DefaultBatchSize is the number of rows embedded per provider call
// when the Spec does not say otherwise.
const DefaultBatchSize = 32

// DefaultDelimiter joins source field values into one input text.
const DefaultDelimiter = " "

// Spec describes one embedding-generation request. It is ephemeral:
// constructed per request, but (Model, SourceFields) determines the
// identity of the resulting column.
type Spec struct {
	Table        string   `json:"table"`
	SourceFields []string `json:"source_fields"`
	TargetColumn string   `json:"target_column"`

	// Delimiter between concatenated field values. Defaults to a
	// single space.
	Delimiter string `json:"delimiter,omitempty"`

	// Overwrite allows replacing an existing column with a different
	// identity or dimension. Without it such a collision fails with
	// ErrColumnConflict.
	Overwrite bool `json:"overwrite,omitempty"`

	// OnlyMissing restricts generation to rows whose vector cell is
	// still null.
	OnlyMissing bool `json:"only_missing,omitempty"`

	BatchSize int `json:"batch_size,omitempty"`
}

// Status of a finished generation run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// RowFailure records one row whose embedding failed. The row keeps a
// null vector.
type RowFailure struct {
	RowID int64  `json:"row_id"`
	Err   string `json:"error"`
}

// Result summarizes a generation run. Failures are reported, never
// silently dropped.
type Result struct {
	Table         string       `json:"table"`
	Column        string       `json:"column"`
	Dimension     int          `json:"dimension"`
	RowsProcessed int          `json:"rows_processed"`
	RowsFailed    int          `json:"rows_failed"`
	Status        Status       `json:"status"`
	Failures      []RowFailure `json:"failures,omitempty"`
}

// Progress is reported after each persisted batch. Callbacks must not
// mutate anything the run depends on.
type Progress struct {
	RowsTotal  int
	RowsDone   int
	RowsFailed int
}

// ProgressFunc receives progress updates during a run.
type ProgressFunc func(Progress)

// Orchestrator generates vector columns over a storage engine.
type Orchestrator struct {
	engine   storage.Engine
	logger   *slog.Logger
	progress ProgressFunc
}

// New creates an orchestrator over the given engine.
func New(engine storage.Engine, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{engine: engine, logger: logger}
}

// SetProgressCallback sets a callback for per-batch progress updates.
func (o *Orchestrator) SetProgressCallback(fn ProgressFunc) {
	o.progress = fn
}

// Generate validates the Spec, prepares the target column, and runs
// the embed/persist pipeline. Provider-level unavailability is checked
// before anything is written; per-row embedding errors leave null
// vectors and are collected in the result. Cancelling the context
// between batches keeps already persisted rows and returns a result
// with StatusCancelled.
func (o *Orchestrator) Generate(ctx context.Context, spec Spec, provider embed.Provider) (*Result, error) {
	if spec.TargetColumn == "" {
		return nil, fmt.Errorf("%w: empty target column", ErrInvalidField)
	}
	if len(spec.SourceFields) == 0 {
		return nil, fmt.Errorf("%w: no source fields selected", ErrInvalidField)
	}
	if spec.Delimiter == "" {
		spec.Delimiter = DefaultDelimiter
	}
	if spec.BatchSize <= 0 {
		spec.BatchSize = DefaultBatchSize
	}

	table, err := o.engine.OpenTable(ctx, spec.Table)
	if err != nil {
		return nil, err
	}

	// Schema is read here, immediately before mutating, never from an
	// older cached copy.
	schema, err := table.Schema(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range spec.SourceFields {
		field, ok := schema.Field(f)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not in table %q", ErrInvalidField, f, spec.Table)
		}
		if field.IsVector() {
			return nil, fmt.Errorf("%w: %q is a vector column", ErrInvalidField, f)
		}
	}

	if err := provider.Ping(ctx); err != nil {
		return nil, fmt.Errorf("embedding provider check failed: %w", err)
	}

	dim := provider.Dimensions()
	if dim <= 0 {
		return nil, fmt.Errorf("provider %q reports no dimensionality", provider.Model())
	}

	if err := o.prepareColumn(ctx, table, schema, spec, provider.Model(), dim); err != nil {
		return nil, err
	}

	rows, err := o.collectInputs(ctx, table, spec)
	if err != nil {
		return nil, err
	}

	return o.run(ctx, table, spec, provider, dim, rows)
}

// prepareColumn creates the target column or verifies that writing
// into the existing one is allowed.
func (o *Orchestrator) prepareColumn(ctx context.Context, table storage.Table, schema tabular.Schema, spec Spec, model string, dim int) error {
	field, exists := schema.Field(spec.TargetColumn)
	if !exists {
		return table.AddVectorColumn(ctx, storage.ColumnMeta{
			Table:        spec.Table,
			Column:       spec.TargetColumn,
			Model:        model,
			SourceFields: spec.SourceFields,
			Dimension:    dim,
		})
	}

	if !field.IsVector() {
		return fmt.Errorf("%w: %q exists as a %s column", ErrColumnConflict, spec.TargetColumn, field.Type)
	}

	sameIdentity := field.Model == model && equalFields(field.SourceFields, spec.SourceFields)
	if sameIdentity && field.Dimension == dim {
		// In-place update, the fill-in-missing-rows workflow.
		return nil
	}
	if !spec.Overwrite {
		return fmt.Errorf("%w: column %q was generated by model %q from %v (dimension %d); pass overwrite to replace it",
			ErrColumnConflict, spec.TargetColumn, field.Model, field.SourceFields, field.Dimension)
	}

	if err := table.DropVectorColumn(ctx, spec.TargetColumn); err != nil {
		return err
	}
	return table.AddVectorColumn(ctx, storage.ColumnMeta{
		Table:        spec.Table,
		Column:       spec.TargetColumn,
		Model:        model,
		SourceFields: spec.SourceFields,
		Dimension:    dim,
	})
}

type rowInput struct {
	id   int64
	text string
}

// collectInputs builds one input text per row: the source field values
// joined in spec order. Rows where every selected field is empty
// produce an explicit empty string, not a skipped row.
func (o *Orchestrator) collectInputs(ctx context.Context, table storage.Table, spec Spec) ([]rowInput, error) {
	skip := map[int64]bool{}
	if spec.OnlyMissing {
		// Rows that already carry a vector keep it untouched.
		err := table.ScanText(ctx, []string{spec.TargetColumn}, func(rowID int64, values []string) error {
			if values[0] != "" {
				skip[rowID] = true
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	var rows []rowInput
	err := table.ScanText(ctx, spec.SourceFields, func(rowID int64, values []string) error {
		if skip[rowID] {
			return nil
		}
		rows = append(rows, rowInput{id: rowID, text: joinFields(values, spec.Delimiter)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func joinFields(values []string, delimiter string) string {
	allEmpty := true
	for _, v := range values {
		if v != "" {
			allEmpty = false
			break
		}
	}
	if allEmpty {
		return ""
	}
	return strings.Join(values, delimiter)
}

type batchOutput struct {
	ids      []int64
	vectors  [][]float32
	failures []RowFailure
}

// run embeds batches and persists them in a two-stage pipeline, so
// vector computation overlaps with the writes for the previous batch.
func (o *Orchestrator) run(ctx context.Context, table storage.Table, spec Spec, provider embed.Provider, dim int, rows []rowInput) (*Result, error) {
	result := &Result{
		Table:     spec.Table,
		Column:    spec.TargetColumn,
		Dimension: dim,
		Status:    StatusCompleted,
	}
	if len(rows) == 0 {
		return result, nil
	}

	outputs := make(chan batchOutput, 2)
	cancelled := false

	// Persisting already computed batches outlives a cancelled run, so
	// rows embedded before the cancel are kept.
	persistCtx := context.WithoutCancel(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(outputs)
		for start := 0; start < len(rows); start += spec.BatchSize {
			// Cancellation is honored between batches so persisted
			// rows survive.
			select {
			case <-ctx.Done():
				cancelled = true
				return nil
			default:
			}

			end := start + spec.BatchSize
			if end > len(rows) {
				end = len(rows)
			}
			out, err := o.embedBatch(gctx, provider, dim, rows[start:end])
			if err != nil {
				if ctx.Err() != nil {
					cancelled = true
					return nil
				}
				return err
			}

			select {
			case outputs <- out:
			case <-gctx.Done():
				cancelled = true
				return nil
			}
		}
		return nil
	})

	g.Go(func() error {
		for out := range outputs {
			if len(out.ids) > 0 {
				if err := table.SetVectors(persistCtx, spec.TargetColumn, out.ids, out.vectors); err != nil {
					return err
				}
			}
			result.RowsProcessed += len(out.ids)
			result.RowsFailed += len(out.failures)
			result.Failures = append(result.Failures, out.failures...)

			if o.progress != nil {
				o.progress(Progress{
					RowsTotal:  len(rows),
					RowsDone:   result.RowsProcessed + result.RowsFailed,
					RowsFailed: result.RowsFailed,
				})
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if cancelled {
		result.Status = StatusCancelled
	}
	return result, nil
}

// embedBatch embeds one batch. A failing batch call falls back to
// per-row embedding so a single bad row does not take down its
// neighbors; only provider unavailability is fatal.
func (o *Orchestrator) embedBatch(ctx context.Context, provider embed.Provider, dim int, batch []rowInput) (batchOutput, error) {
	texts := make([]string, len(batch))
	for i, r := range batch {
		texts[i] = r.text
	}

	var out batchOutput
	vecs, err := provider.EmbedBatch(ctx, texts)
	if err == nil {
		for i, vec := range vecs {
			o.appendVector(&out, batch[i].id, vec, dim)
		}
		return out, nil
	}
	if errors.Is(err, embed.ErrProviderUnavailable) || ctx.Err() != nil {
		return out, err
	}

	o.logger.Debug("batch embed failed, isolating rows", "rows", len(batch), "error", err)
	for _, r := range batch {
		vec, err := provider.Embed(ctx, r.text)
		if err != nil {
			if errors.Is(err, embed.ErrProviderUnavailable) || ctx.Err() != nil {
				return out, err
			}
			out.failures = append(out.failures, RowFailure{RowID: r.id, Err: err.Error()})
			continue
		}
		o.appendVector(&out, r.id, vec, dim)
	}
	return out, nil
}

func (o *Orchestrator) appendVector(out *batchOutput, id int64, vec []float32, dim int) {
	if len(vec) != dim {
		out.failures = append(out.failures, RowFailure{
			RowID: id,
			Err:   fmt.Sprintf("embedding has %d components, column has %d", len(vec), dim),
		})
		return
	}
	out.ids = append(out.ids, id)
	out.vectors = append(out.vectors, vec)
}

func equalFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
