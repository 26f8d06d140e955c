package restore

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rowjay/supa-backup/internal/platform"
	"github.com/rowjay/supa-backup/internal/report"
)

const userSchema = "public"

// Planner runs the destructive preparation a mode requires before the load.
type Planner struct {
	tables platform.TableCatalog
	schema platform.SchemaAdmin
	log    zerolog.Logger
}

func NewPlanner(caps platform.Capabilities, log zerolog.Logger) *Planner {
	return &Planner{tables: caps.Tables, schema: caps.Schema, log: log.With().Str("resource", string(report.ResourcePrepare)).Logger()}
}

// Prepare applies the preparation for mode. The returned error is fatal;
// per-table drop failures in clean mode only degrade the outcome.
func (p *Planner) Prepare(ctx context.Context, mode Mode) (report.Outcome, error) {
	out := report.Outcome{Resource: report.ResourcePrepare}
	switch mode {
	case ModeForce:
		if p.schema == nil {
			return report.Failed(out.Resource, platform.ErrNotConfigured), report.Fatal(out.Resource, platform.ErrNotConfigured)
		}
		p.log.Warn().Str("schema", userSchema).Msg("dropping and recreating schema")
		if err := p.schema.RecreateSchema(ctx, userSchema); err != nil {
			err = fmt.Errorf("recreate schema %s: %w", userSchema, err)
			return report.Failed(out.Resource, err), report.Fatal(out.Resource, err)
		}
		out.Items = 1
		out.Detail = "schema " + userSchema + " recreated"
		return out, nil

	case ModeClean:
		if p.schema == nil || p.tables == nil {
			return report.Failed(out.Resource, platform.ErrNotConfigured), report.Fatal(out.Resource, platform.ErrNotConfigured)
		}
		tables, err := p.tables.ListTables(ctx, userSchema)
		if err != nil {
			err = fmt.Errorf("list tables: %w", err)
			return report.Failed(out.Resource, err), report.Fatal(out.Resource, err)
		}
		for _, table := range tables {
			if err := p.schema.DropTable(ctx, userSchema, table); err != nil {
				p.log.Warn().Err(err).Str("table", table).Msg("drop table failed")
				out.Fail(fmt.Errorf("drop %s: %w", table, err))
				continue
			}
			out.Items++
		}
		out.Detail = fmt.Sprintf("dropped %d/%d tables", out.Items, len(tables))
		p.log.Info().Int("dropped", out.Items).Int("tables", len(tables)).Msg("clean preparation done")
		if len(tables) == 0 {
			out.Status = report.StatusSucceeded
		}
		return out, nil

	default:
		return report.Skipped(out.Resource, "merge mode leaves existing objects in place"), nil
	}
}
