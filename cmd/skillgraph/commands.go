package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/skillgraph"
	"github.com/poiesic/skillgraph/core"
	"github.com/poiesic/skillgraph/ingestion"
	"github.com/poiesic/skillgraph/search"
	"github.com/poiesic/skillgraph/storage"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

func withDatabase(c *cli.Context, fn func(db *skillgraph.Database) error) error {
	st := stateFrom(c)
	db, err := skillgraph.Open(c.Context, st.cfg, skillgraph.WithLogger(slog.Default()))
	if errors.Is(err, storage.ErrStoreLocked) {
		// Another process, normally an ingestion run, holds the store.
		fmt.Fprintf(c.App.Writer, "State: %s (store locked by another process)\n", core.StateInProgress)
		return fail(err)
	}
	if err != nil {
		return fail(fmt.Errorf("failed to open database: %w", err))
	}
	defer db.Close()
	return fn(db)
}

func withService(c *cli.Context, fn func(svc *ingestion.Service) error) error {
	st := stateFrom(c)
	return withDatabase(c, func(db *skillgraph.Database) error {
		svc, err := db.NewService(ingestion.WithMetrics(st.metrics))
		if err != nil {
			return fail(err)
		}
		defer svc.Close()

		if err := svc.WaitForStore(c.Context, st.cfg.Connection.Retries, time.Duration(st.cfg.Connection.Interval)); err != nil {
			return fail(err)
		}
		return fn(svc)
	})
}

func parseClasses(names []string) ([]core.EntityClass, error) {
	classes := make([]core.EntityClass, 0, len(names))
	for _, name := range names {
		class, err := core.ParseEntityClass(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrValidation, err)
		}
		classes = append(classes, class)
	}
	return classes, nil
}

func ingestCommand(c *cli.Context) error {
	ctx := c.Context
	out := c.App.Writer

	classes, err := parseClasses(c.StringSlice("class"))
	if err != nil {
		return fail(err)
	}
	opts := ingestion.RunOptions{
		Force:         c.Bool("force"),
		SkipRelations: c.Bool("skip-relations"),
		Classes:       classes,
		Progress: func(p core.IngestionProgress) {
			fmt.Fprintf(c.App.ErrWriter, "[%d/%d] %s\n", p.StepNumber, p.TotalSteps, p.CurrentStep)
		},
	}

	return withService(c, func(svc *ingestion.Service) error {
		validation := svc.ValidatePrerequisites(ctx)
		if !validation.IsValid {
			printValidation(out, validation)
			return fail(validation.Err())
		}

		if c.Bool("wait") && !opts.Force {
			if snap, err := svc.GetCurrentState(ctx); err == nil && snap.Active() {
				fmt.Fprintf(out, "Waiting for run %s to finish\n", snap.Metadata.RunID())
				err := svc.WaitForCompletion(ctx)
				// A failed or abandoned run is resumed below.
				if err != nil && !errors.Is(err, ingestion.ErrIngestionFailed) && !errors.Is(err, ingestion.ErrIngestionStale) {
					return fail(err)
				}
			}
		}

		result, err := svc.RunIngestion(ctx, opts)
		if result != nil && result.Skipped {
			fmt.Fprintf(out, "Skipped: %s\n", result.SkipReason)
			return exit(result.SkipReason, resultCode(result))
		}
		if result != nil {
			printResult(out, result)
		}
		if err != nil {
			return fail(err)
		}
		return exit(fmt.Sprintf("ingestion finished %s", result.FinalState), resultCode(result))
	})
}

func statusCommand(c *cli.Context) error {
	out := c.App.Writer
	return withService(c, func(svc *ingestion.Service) error {
		snap, err := svc.GetCurrentState(c.Context)
		if err != nil {
			fmt.Fprintf(out, "State: %s\n", snap.State)
			return fail(err)
		}

		state := snap.State.String()
		if snap.Stale {
			state += " (stale)"
		}
		fmt.Fprintf(out, "State: %s\n", state)
		if md := snap.Metadata; md != nil {
			fmt.Fprintf(out, "Last seen: %s\n", core.FormatTimestamp(snap.LastSeen))
			fmt.Fprintf(out, "Run: %s\n", md.RunID())
			fmt.Fprintf(out, "Step: %s\n", md.Step())
			if msg := md.ErrorMessage(); msg != "" {
				fmt.Fprintf(out, "Error: %s\n", msg)
			}
		}

		if n := c.Int("history"); n > 0 {
			history, err := svc.History(c.Context, n)
			if err != nil {
				return fail(err)
			}
			fmt.Fprintln(out, "\nHistory:")
			for _, md := range history {
				fmt.Fprintf(out, "  %s  %-12s %s\n", md.Timestamp, md.Status, md.Step())
			}
		}
		return nil
	})
}

func decideCommand(c *cli.Context) error {
	out := c.App.Writer
	return withService(c, func(svc *ingestion.Service) error {
		d, err := svc.ShouldRunIngestion(c.Context, c.Bool("force"))
		fmt.Fprintf(out, "Should run: %t\n", d.ShouldRun)
		fmt.Fprintf(out, "Reason: %s\n", d.Reason)
		if len(d.MissingClasses) > 0 {
			fmt.Fprintf(out, "Missing classes: %s\n", joinClasses(d.MissingClasses))
		}

		switch {
		case d.ForceRequired:
			return exit(d.Reason, exitManual)
		case err != nil:
			return fail(err)
		case !d.ShouldRun && d.CurrentState == core.StateInProgress:
			return exit(d.Reason, exitInProgress)
		}
		return nil
	})
}

func validateCommand(c *cli.Context) error {
	return withService(c, func(svc *ingestion.Service) error {
		result := svc.ValidatePrerequisites(c.Context)
		printValidation(c.App.Writer, result)
		return fail(result.Err())
	})
}

func verifyCommand(c *cli.Context) error {
	out := c.App.Writer
	return withService(c, func(svc *ingestion.Service) error {
		v, err := svc.VerifyCompletion(c.Context)
		if err != nil {
			return fail(err)
		}
		fmt.Fprintf(out, "State: %s\n", v.State)
		for _, class := range core.AllClasses() {
			if n, ok := v.ClassCounts[class]; ok {
				fmt.Fprintf(out, "  %-16s %d\n", class, n)
			}
		}
		for _, problem := range v.Problems {
			fmt.Fprintf(out, "Problem: %s\n", problem)
		}

		switch {
		case v.Complete:
			fmt.Fprintln(out, "Ingestion is complete")
			return nil
		case v.State == core.StateInProgress && !v.Stale:
			return exit("ingestion is still running", exitInProgress)
		default:
			return exit("ingestion is incomplete", exitFailed)
		}
	})
}

// metricsReport is the YAML document printed by the metrics command.
type metricsReport struct {
	State           string         `yaml:"state"`
	Stale           bool           `yaml:"stale"`
	LastSeen        string         `yaml:"last_seen,omitempty"`
	RunID           string         `yaml:"run_id,omitempty"`
	Step            string         `yaml:"step,omitempty"`
	LastError       string         `yaml:"last_error,omitempty"`
	Classes         map[string]int `yaml:"classes"`
	Relations       map[string]int `yaml:"relations"`
	TotalObjects    int            `yaml:"total_objects"`
	TotalReferences int            `yaml:"total_references"`
}

func metricsCommand(c *cli.Context) error {
	return withService(c, func(svc *ingestion.Service) error {
		m, err := svc.GetIngestionMetrics(c.Context)
		if err != nil {
			return fail(err)
		}

		report := metricsReport{
			State:           m.State.String(),
			Stale:           m.Stale,
			RunID:           m.RunID,
			Step:            m.Step,
			LastError:       m.LastError,
			Classes:         make(map[string]int, len(m.ClassCounts)),
			Relations:       m.RelationCounts,
			TotalObjects:    m.TotalObjects,
			TotalReferences: m.TotalReferences,
		}
		if !m.LastSeen.IsZero() {
			report.LastSeen = core.FormatTimestamp(m.LastSeen)
		}
		for class, n := range m.ClassCounts {
			report.Classes[string(class)] = n
		}

		enc := yaml.NewEncoder(c.App.Writer)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return fail(err)
		}
		return fail(enc.Close())
	})
}

func waitCommand(c *cli.Context) error {
	return withService(c, func(svc *ingestion.Service) error {
		if err := svc.WaitForCompletion(c.Context); err != nil {
			return fail(err)
		}
		fmt.Fprintln(c.App.Writer, "Ingestion completed")
		return nil
	})
}

func searchCommand(c *cli.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return exit("query is required", exitManual)
	}
	classes, err := parseClasses(c.StringSlice("class"))
	if err != nil {
		return fail(err)
	}

	return withDatabase(c, func(db *skillgraph.Database) error {
		searcher, err := db.NewSearcher(search.WithMinSimilarity(float32(c.Float64("min-similarity"))))
		if err != nil {
			return fail(err)
		}
		results, err := searcher.FindSimilar(c.Context, query, c.Int("limit"), classes...)
		if err != nil {
			return fail(err)
		}

		out := c.App.Writer
		if len(results) == 0 {
			fmt.Fprintln(out, "No results")
			return nil
		}
		for _, r := range results {
			fmt.Fprintf(out, "%.3f  %-16s %s  <%s>\n", r.Score, r.Object.Class, r.Object.Label(), r.Object.ExternalID)
		}
		return nil
	})
}

func reembedCommand(c *cli.Context) error {
	classes, err := parseClasses(c.StringSlice("class"))
	if err != nil {
		return fail(err)
	}
	st := stateFrom(c)

	return withDatabase(c, func(db *skillgraph.Database) error {
		reembedder, err := db.NewReembedder(
			ingestion.WithMetrics(st.metrics),
			ingestion.WithProgressWriter(c.App.ErrWriter),
		)
		if err != nil {
			return fail(err)
		}

		fmt.Fprintf(c.App.ErrWriter, "Database: %s\n", st.cfg.StorePath)
		fmt.Fprintf(c.App.ErrWriter, "Embedding host: %s\n", st.cfg.AI.Host)
		fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n", st.cfg.AI.Model)
		fmt.Fprintln(c.App.ErrWriter)

		counts, err := reembedder.Run(c.Context, classes...)
		for _, class := range core.AllClasses() {
			if n, ok := counts[class]; ok {
				fmt.Fprintf(c.App.Writer, "%-16s %d\n", class, n)
			}
		}
		if err != nil {
			return fail(fmt.Errorf("reembedding failed: %w", err))
		}
		return nil
	})
}

func printResult(out io.Writer, result *core.IngestionResult) {
	fmt.Fprintf(out, "Run %s: %s in %s (%d/%d steps)\n",
		result.RunID, result.FinalState, result.Duration().Round(time.Millisecond),
		result.StepsCompleted, result.TotalSteps)
	for _, class := range core.AllClasses() {
		if n, ok := result.Metrics.ClassCounts[class]; ok {
			fmt.Fprintf(out, "  %-28s %d\n", class, n)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(result.Metrics.RelationCounts)) {
		fmt.Fprintf(out, "  %-28s %d\n", name, result.Metrics.RelationCounts[name])
	}
	for name, n := range result.Metrics.SkippedRows {
		fmt.Fprintf(out, "  skipped %s rows: %d\n", name, n)
	}
	fmt.Fprintf(out, "Warnings: %d, errors: %d\n", len(result.Warnings), len(result.Errors))
	for _, e := range result.Errors {
		fmt.Fprintf(out, "  error: %s\n", e)
	}
}

func printValidation(out io.Writer, result *core.ValidationResult) {
	for _, component := range slices.Sorted(maps.Keys(result.Details)) {
		detail := result.Details[component]
		fmt.Fprintf(out, "%-14s %s\n", component, detail.Status)
		for _, msg := range detail.Messages {
			fmt.Fprintf(out, "  %s\n", msg)
		}
	}
}

func joinClasses(classes []core.EntityClass) string {
	names := make([]string, len(classes))
	for i, c := range classes {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
