package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/ongoingai/promptops/migrations"
)

type migrateOutput struct {
	Driver  string   `json:"driver"`
	Applied []string `json:"applied"`
}

// runMigrate opens the configured database, which applies any pending
// embedded migrations, then lists what is recorded as applied.
func runMigrate(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("migrate", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	formatFlag := flagSet.String("format", "text", "Output format: text or json")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "migrate does not accept positional arguments")
		return 2
	}
	format, err := normalizeTextJSONFormat("migrate", *formatFlag, "text")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	cfg, ok := loadConfigOrReport(*configPath, errOut)
	if !ok {
		return 1
	}

	db, err := openDatabase(cfg.Storage)
	if err != nil {
		fmt.Fprintf(errOut, "migration failed: %v\n", err)
		return 1
	}
	defer db.Close()

	applied, err := migrations.Applied(context.Background(), db)
	if err != nil {
		fmt.Fprintf(errOut, "failed to list applied migrations: %v\n", err)
		return 1
	}

	driver := strings.TrimSpace(cfg.Storage.Driver)
	if format == "json" {
		if applied == nil {
			applied = []string{}
		}
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(migrateOutput{Driver: driver, Applied: applied}); err != nil {
			fmt.Fprintf(errOut, "failed to write output: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Fprintf(out, "%s schema is up to date (%d migrations applied)\n", driver, len(applied))
	for _, name := range applied {
		fmt.Fprintf(out, "  %s\n", name)
	}
	return 0
}
