package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/mmdatafocus/menu_backend/bootstrap"
	"github.com/mmdatafocus/menu_backend/brain"
	"github.com/mmdatafocus/menu_backend/config"
)

const usage = `usage: brain-tool <command> [flags]

commands:
  export [-out file]   write the Brain document (stdout by default)
  import -in file      replace all rules with the document in file
  sync                 upload the Brain to the GCS mirror
  list                 print the rules as a table`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}
	cmd, args := os.Args[1], os.Args[2:]

	ctx := context.Background()
	b, closeBrain, err := bootstrap.OpenBrain(ctx, config.LoadResolverSettings())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open brain: %v\n", err)
		os.Exit(1)
	}
	defer closeBrain()

	switch cmd {
	case "export":
		fs := flag.NewFlagSet("export", flag.ExitOnError)
		out := fs.String("out", "", "Output file")
		_ = fs.Parse(args)
		var w io.Writer = os.Stdout
		if *out != "" {
			f, err := os.Create(*out)
			if err != nil {
				fail(err)
			}
			defer f.Close()
			w = f
		}
		if err := b.Export(w); err != nil {
			fail(err)
		}
	case "import":
		fs := flag.NewFlagSet("import", flag.ExitOnError)
		in := fs.String("in", "", "Required: Brain document to import")
		_ = fs.Parse(args)
		if *in == "" {
			fail(fmt.Errorf("-in is required"))
		}
		f, err := os.Open(*in)
		if err != nil {
			fail(err)
		}
		defer f.Close()
		locker, closeLocker := bootstrap.OpenLocker(ctx)
		defer closeLocker()
		unlock, err := locker.Lock(ctx, brain.LockKey, "brain-tool", "import")
		if err != nil {
			fail(err)
		}
		n, err := b.Import(ctx, f)
		unlock()
		if err != nil {
			fail(err)
		}
		fmt.Printf("imported %d rules into %s; run catalog-rebuild to apply them\n", n, b.Path())
	case "sync":
		if err := b.Sync(ctx); err != nil {
			fail(err)
		}
		fmt.Printf("uploaded %d rules to the mirror\n", b.Len())
	case "list":
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tKIND\tKEY\tTARGET\tVARIANT\tBY")
		for _, r := range b.Rules() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s/%s\t%s\t%s\n", r.ID, r.Kind, r.PrimaryKey(), r.TargetCategory, r.TargetName, r.TargetVariant, r.CreatedBy)
		}
		_ = tw.Flush()
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
