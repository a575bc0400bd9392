// Command cpiweights-import loads the input tables from CSV files into the
// SQLite store and optionally recomputes every month the imported
// observations cover.
//
// CSV layouts (a header row is detected and skipped):
//
//	series.csv:  category,YYYY-MM,value
//	anchors.csv: category,year,weight
//	groups.csv:  category,group
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"os"

	"cpiweights/internal/cli"
	"cpiweights/internal/core"
	applog "cpiweights/internal/log"
	"cpiweights/internal/services"
	"cpiweights/internal/storage"
	"cpiweights/internal/tables"
)

func main() {
	seriesPath := flag.String("series", "", "path to the price-index series CSV")
	anchorsPath := flag.String("anchors", "", "path to the anchor-weights CSV")
	groupsPath := flag.String("groups", "", "path to the category-groups CSV")
	recompute := flag.Bool("recompute", true, "recompute weights for the imported month range")
	flag.Parse()

	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	cfg := cli.LoadAndValidateConfig(logger)

	if *seriesPath == "" && *anchorsPath == "" && *groupsPath == "" {
		logger.Error("Nothing to import: pass at least one of -series, -anchors, -groups")
		os.Exit(1)
	}

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	ctx := context.Background()

	var minMonth, maxMonth core.Month
	if *seriesPath != "" {
		minMonth, maxMonth = importSeries(ctx, logger, repo, *seriesPath)
	}
	if *anchorsPath != "" {
		importAnchors(ctx, logger, repo, *anchorsPath)
	}
	if *groupsPath != "" {
		importGroups(ctx, logger, repo, *groupsPath)
	}

	if *recompute && !minMonth.IsZero() {
		recomputer := services.NewRecomputer(repo, repo, repo, cli.PropagatorConfig(cfg))
		logger.Info("Recomputing imported range",
			"from", minMonth.String(), "to", maxMonth.String())
		if _, err := recomputer.RecomputeRange(ctx, minMonth, maxMonth); err != nil {
			logger.Error("Recompute failed", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("Import complete")
}

func importSeries(ctx context.Context, logger *applog.Logger, repo *storage.SQLiteRepository, path string) (minMonth, maxMonth core.Month) {
	imported, skipped := 0, 0
	for _, row := range readCSV(logger, path) {
		o, err := tables.ParseObservationRow(row)
		if err != nil {
			skipped++
			continue
		}
		if _, err := repo.AppendObservation(ctx, o); err != nil {
			logger.Error("Failed to store observation",
				"error", err, "category", o.Category, "month", o.Month.String())
			os.Exit(1)
		}
		if minMonth.IsZero() || o.Month.Before(minMonth) {
			minMonth = o.Month
		}
		if maxMonth.IsZero() || maxMonth.Before(o.Month) {
			maxMonth = o.Month
		}
		imported++
	}
	logger.Info("Imported series", "file", path, "rows", imported, "skipped", skipped)
	return minMonth, maxMonth
}

func importAnchors(ctx context.Context, logger *applog.Logger, repo *storage.SQLiteRepository, path string) {
	imported, skipped := 0, 0
	for _, row := range readCSV(logger, path) {
		a, err := tables.ParseAnchorRow(row)
		if err != nil {
			skipped++
			continue
		}
		if _, err := repo.AppendAnchor(ctx, a); err != nil {
			logger.Error("Failed to store anchor weight",
				"error", err, "category", a.Category, "year", a.Year)
			os.Exit(1)
		}
		imported++
	}
	logger.Info("Imported anchors", "file", path, "rows", imported, "skipped", skipped)
}

func importGroups(ctx context.Context, logger *applog.Logger, repo *storage.SQLiteRepository, path string) {
	imported, skipped := 0, 0
	for _, row := range readCSV(logger, path) {
		g, err := tables.ParseGroupRow(row)
		if err != nil {
			skipped++
			continue
		}
		if err := repo.UpsertGroup(ctx, g); err != nil {
			logger.Error("Failed to store category group",
				"error", err, "category", g.Category)
			os.Exit(1)
		}
		imported++
	}
	logger.Info("Imported groups", "file", path, "rows", imported, "skipped", skipped)
}

// readCSV reads all rows of a CSV file, skipping '#' comments and a header
// row when the file carries one.
func readCSV(logger *applog.Logger, path string) [][]string {
	f, err := os.Open(path)
	if err != nil {
		logger.Error("Failed to open CSV file", "error", err, "file", path)
		os.Exit(1)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.Comment = '#'

	rows, err := r.ReadAll()
	if err != nil {
		logger.Error("Failed to parse CSV file", "error", err, "file", path)
		os.Exit(1)
	}
	if len(rows) > 0 && tables.LooksLikeHeader(rows[0]) {
		rows = rows[1:]
	}
	return rows
}
