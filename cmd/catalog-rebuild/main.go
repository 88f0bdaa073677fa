package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/mmdatafocus/menu_backend/bootstrap"
	"github.com/mmdatafocus/menu_backend/utils"
)

// Drops the catalog, re-seeds it from the Brain (and the seed workbook when
// SEED_CATALOG_PATH is set) and re-resolves every stored line item.
func main() {
	operator := flag.String("operator", utils.SystemOperator, "Operator recorded in logs")
	confirm := flag.Bool("yes", false, "Required: confirm dropping the catalog tables")
	flag.Parse()

	if !*confirm {
		fmt.Fprintln(os.Stderr, "refusing to rebuild without --yes (catalog tables are dropped and re-created)")
		os.Exit(1)
	}

	ctx := utils.SetOperatorInContext(context.Background(), *operator)
	app, err := bootstrap.Open(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	report, err := app.Engine.RebuildCatalogFromBrain(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rebuild failed: %v\n", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
	if report.Ingest != nil && len(report.Ingest.Errors) > 0 {
		fmt.Fprintf(os.Stderr, "%d line items failed to resolve; rerun after fixing them\n", len(report.Ingest.Errors))
		os.Exit(2)
	}
}
