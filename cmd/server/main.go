/*
main.go - Application entry point

PURPOSE:
  Starts the till server and its maintenance commands. Handles
  configuration, dependency wiring, and graceful shutdown.

COMMANDS:
  till serve    Run the HTTP API, change feed and consistency scheduler (default)
  till migrate  Apply schema migrations and print the schema version
  till check    Compare cached balances with the debt log (exit 1 on drift)
  till repair   Recompute drifted balances from the debt log
  till seed     Load a demo scenario into an empty database

STARTUP SEQUENCE (serve):
  1. Load config (defaults, --config TOML, TILL_* env, flags)
  2. Build zap logger
  3. Open SQLite store (runs migrations)
  4. Wire engine, SSE hub, metrics, handler, router
  5. Run HTTP server and scheduler under one errgroup

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections and end SSE streams
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./till serve --db=./data/till.db

  # Run with in-memory database
  ./till serve --db=":memory:"

  # Run on different port
  TILL_HTTP_ADDR=:3000 ./till serve

SEE ALSO:
  - config/config.go: Settings and their sources
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
