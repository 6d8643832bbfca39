package main

import (
	"context"
	"fmt"
	golog "log"
	"os"
	"os/signal"
	"syscall"

	"github.com/omniscale/osmpatch"
	"github.com/omniscale/osmpatch/cache/query"
	"github.com/omniscale/osmpatch/config"
	"github.com/omniscale/osmpatch/import_"
	"github.com/omniscale/osmpatch/log"
	"github.com/omniscale/osmpatch/stats"
	"github.com/omniscale/osmpatch/update"
)

func PrintCmds() {
	fmt.Fprintf(os.Stderr, "Usage: %s COMMAND [args]\n\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "Available commands:")
	fmt.Fprintln(os.Stderr, "\timport")
	fmt.Fprintln(os.Stderr, "\tapply")
	fmt.Fprintln(os.Stderr, "\tquery-cache")
	fmt.Fprintln(os.Stderr, "\tversion")
}

func setup(base config.Base) {
	if base.Quiet {
		log.SetMinLevel(log.LWarn)
	}
	if base.Httpprofile != "" {
		stats.StartHttpPProf(base.Httpprofile)
	}
}

func Main(usage func()) {
	golog.SetFlags(golog.LstdFlags | golog.Lshortfile)

	if len(os.Args) <= 1 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "import":
		opts, err := config.ParseImport(os.Args[2:])
		if err != nil {
			log.Fatalf("[fatal] %s", err)
		}
		setup(opts.Base)
		if _, err := import_.Import(opts); err != nil {
			log.Fatalf("[fatal] Importing: %s", err)
		}
	case "apply":
		opts, files, err := config.ParseApply(os.Args[2:])
		if err != nil {
			log.Fatalf("[fatal] %s", err)
		}
		setup(opts.Base)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		_, err = update.Apply(ctx, opts, files)
		stop()
		if err != nil {
			log.Fatalf("[fatal] Applying changes: %s", err)
		}
	case "query-cache":
		if err := query.Query(os.Args[2:], os.Stdout); err != nil {
			log.Fatalf("[fatal] %s", err)
		}
	case "version":
		fmt.Println(osmpatch.Version)
		os.Exit(0)
	default:
		usage()
		log.Fatalf("[fatal] invalid command: '%s'", os.Args[1])
	}
	os.Exit(0)
}

func main() {
	Main(PrintCmds)
}
