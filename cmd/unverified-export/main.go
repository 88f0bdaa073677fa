package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mmdatafocus/menu_backend/catalog"
	"github.com/mmdatafocus/menu_backend/config"
)

func main() {
	out := flag.String("out", "", "Output .xlsx path (default unverified-<date>.xlsx)")
	flag.Parse()

	path := *out
	if path == "" {
		path = fmt.Sprintf("unverified-%s.xlsx", time.Now().Format("2006-01-02"))
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create %s: %v\n", path, err)
		os.Exit(1)
	}
	n, err := catalog.New(db).ExportUnverifiedXLSX(context.Background(), f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "export failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %d unverified items to %s\n", n, path)
}
