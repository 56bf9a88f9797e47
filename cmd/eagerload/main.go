package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"tidb-eagerload/internal/config"
	"tidb-eagerload/internal/loaderapp"
	"tidb-eagerload/internal/model"
	"tidb-eagerload/internal/relation"

	"github.com/spf13/pflag"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("eagerload error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

type cliFlags struct {
	relationFile    string
	ownerTable      string
	relationName    string
	owners          []string
	ownersComposite []string
	metricsDump     bool
	showVersion     bool
}

func defineCLIFlags(fs *pflag.FlagSet) *cliFlags {
	f := &cliFlags{}
	fs.StringVar(&f.relationFile, "relation", "", "Relation definition file (YAML)")
	fs.StringVar(&f.ownerTable, "owner-table", "", "Owner table of the relation to load")
	fs.StringVar(&f.relationName, "relation-name", "", "Name of the relation to load when the file defines several")
	fs.StringSliceVar(&f.owners, "owners", nil, "Owner keys for a single-column relation (e.g. 1,2,3)")
	fs.StringSliceVar(&f.ownersComposite, "owners-composite", nil, "Composite owner keys, columns separated by ':' (e.g. 1:a,2:b)")
	fs.BoolVar(&f.metricsDump, "metrics-dump", false, "Write loader metrics in Prometheus text format to stderr")
	fs.BoolVar(&f.showVersion, "version", false, "Print version and exit")
	return f
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("eagerload", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	config.DefineFlags(fs)
	flags := defineCLIFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if flags.showVersion {
		fmt.Fprintf(stdout, "tidb-eagerload %s (%s)\n", Version, Commit)
		return nil
	}
	if flags.relationFile == "" {
		return errors.New("--relation is required")
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}

	validationResult := cfg.Validate()
	for _, warn := range validationResult.Warnings {
		slog.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if validationResult.HasErrors() {
		for _, err := range validationResult.Errors {
			slog.Error("configuration error",
				slog.String("field", err.Field),
				slog.String("message", err.Message),
				slog.String("hint", err.Hint),
			)
		}
		return fmt.Errorf("configuration validation failed")
	}

	logger, loggerProvider, err := loaderapp.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	app, err := loaderapp.New(cfg, logger)
	if err != nil {
		if loggerProvider != nil {
			_ = loggerProvider.Shutdown(context.Background(), logger.Logger)
		}
		return err
	}
	app.AttachLoggerProvider(loggerProvider)

	rel, owners, err := prepareLoad(app, flags)
	if err != nil {
		if loggerProvider != nil {
			_ = loggerProvider.Shutdown(context.Background(), logger.Logger)
		}
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Init(ctx); err != nil {
		return err
	}
	defer func() {
		if shutdownErr := app.Shutdown(context.Background()); shutdownErr != nil {
			logger.Warn("shutdown failed", slog.String("error", shutdownErr.Error()))
		}
	}()

	if _, err := app.Load(ctx, rel, owners, nil); err != nil {
		return err
	}
	if err := writeOwners(stdout, owners); err != nil {
		return err
	}

	if flags.metricsDump {
		mp := app.MeterProvider()
		if mp == nil {
			logger.Warn("metrics dump requested but metrics are disabled")
			return nil
		}
		if err := mp.WriteText(stderr); err != nil {
			return fmt.Errorf("failed to dump metrics: %w", err)
		}
	}
	return nil
}

func prepareLoad(app *loaderapp.App, flags *cliFlags) (*relation.ManyToMany, []model.Owner, error) {
	rels, err := app.LoadRelations(flags.relationFile)
	if err != nil {
		return nil, nil, err
	}
	rel, err := selectRelation(rels, flags.ownerTable, flags.relationName)
	if err != nil {
		return nil, nil, err
	}
	owners, err := buildOwners(rel, flags.owners, flags.ownersComposite)
	if err != nil {
		return nil, nil, err
	}
	return rel, owners, nil
}

// selectRelation picks the relation to load. A file with a single relation
// needs no selector.
func selectRelation(rels []*relation.ManyToMany, ownerTable, name string) (*relation.ManyToMany, error) {
	if name == "" {
		if len(rels) == 1 {
			return rels[0], nil
		}
		return nil, fmt.Errorf("relation file defines %d relations; pass --relation-name", len(rels))
	}
	if ownerTable != "" {
		if rel := relation.Find(rels, ownerTable, name); rel != nil {
			return rel, nil
		}
		return nil, fmt.Errorf("relation %s.%s not found", ownerTable, name)
	}
	var match *relation.ManyToMany
	for _, rel := range rels {
		if rel.Name != name {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("relation %q is defined on several owner tables; pass --owner-table", name)
		}
		match = rel
	}
	if match == nil {
		return nil, fmt.Errorf("relation %q not found", name)
	}
	return match, nil
}

// buildOwners turns owner keys from the command line into owner records
// carrying the relation's owner props.
func buildOwners(rel *relation.ManyToMany, single, composite []string) ([]model.Owner, error) {
	if len(single) > 0 && len(composite) > 0 {
		return nil, errors.New("--owners and --owners-composite are mutually exclusive")
	}
	width := len(rel.OwnerProp)
	var keys [][]string
	switch {
	case len(single) > 0:
		if width != 1 {
			return nil, fmt.Errorf("relation %s has a %d-column owner key; use --owners-composite", rel.Name, width)
		}
		for _, raw := range single {
			keys = append(keys, []string{strings.TrimSpace(raw)})
		}
	case len(composite) > 0:
		for _, raw := range composite {
			parts := strings.Split(raw, ":")
			if len(parts) != width {
				return nil, fmt.Errorf("owner key %q has %d parts, relation %s expects %d", raw, len(parts), rel.Name, width)
			}
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			keys = append(keys, parts)
		}
	}

	owners := make([]model.Owner, 0, len(keys))
	for _, key := range keys {
		record := make(model.Record, width)
		for i, prop := range rel.OwnerProp {
			record[prop] = key[i]
		}
		owners = append(owners, record)
	}
	return owners, nil
}

func writeOwners(w io.Writer, owners []model.Owner) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(owners); err != nil {
		return fmt.Errorf("failed to encode owners: %w", err)
	}
	return nil
}
