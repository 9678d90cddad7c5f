// Command gridbot is the process entrypoint: it bootstraps the App and
// runs the HTTP API under the graceful-shutdown lifecycle.
//
// Grounded on the teacher's cmd/live_server/main.go: flag parsing,
// version reporting, and a fatal-on-bootstrap-error startup sequence are
// carried over; wiring detail is delegated to internal/bootstrap.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/bootstrap"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	envFile := flag.String("env-file", ".env", "Path to a .env file to preload (optional)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("gridbot version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	app, err := bootstrap.New(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap gridbot: %v\n", err)
		os.Exit(1)
	}

	httpRunner := bootstrap.RunnerFunc(func(ctx context.Context) error {
		return app.HTTPAPI.Start(ctx, app.Cfg.HTTPAddr)
	})

	if err := app.Run(context.Background(), httpRunner); err != nil {
		app.Shutdown(context.Background())
		os.Exit(1)
	}

	app.Shutdown(context.Background())
}
