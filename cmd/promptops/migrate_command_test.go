package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ongoingai/promptops/migrations"
)

func TestRunMigrateSQLite(t *testing.T) {
	t.Parallel()

	want, err := migrations.Names(migrations.DriverSQLite)
	if err != nil {
		t.Fatalf("Names() error: %v", err)
	}

	t.Run("text", func(t *testing.T) {
		t.Parallel()

		configPath, _ := writeTestConfig(t, 8080, "http://127.0.0.1:1", "inline")
		var stdout bytes.Buffer
		var stderr bytes.Buffer
		code := runMigrate([]string{"--config", configPath}, &stdout, &stderr)
		if code != 0 {
			t.Fatalf("runMigrate() code=%d, want 0 (stderr=%q)", code, stderr.String())
		}
		header := "sqlite schema is up to date (2 migrations applied)"
		if !strings.HasPrefix(stdout.String(), header) {
			t.Fatalf("stdout=%q, want prefix %q", stdout.String(), header)
		}
		for _, name := range want {
			if !strings.Contains(stdout.String(), "  "+name+"\n") {
				t.Fatalf("stdout=%q, want migration %q", stdout.String(), name)
			}
		}
	})

	t.Run("json is idempotent", func(t *testing.T) {
		t.Parallel()

		configPath, _ := writeTestConfig(t, 8080, "http://127.0.0.1:1", "inline")
		for i := 0; i < 2; i++ {
			var stdout bytes.Buffer
			var stderr bytes.Buffer
			code := runMigrate([]string{"--config", configPath, "--format", "json"}, &stdout, &stderr)
			if code != 0 {
				t.Fatalf("runMigrate() run %d code=%d, want 0 (stderr=%q)", i, code, stderr.String())
			}
			var output migrateOutput
			if err := json.Unmarshal(stdout.Bytes(), &output); err != nil {
				t.Fatalf("decode output %q: %v", stdout.String(), err)
			}
			if output.Driver != "sqlite" {
				t.Fatalf("driver=%q, want sqlite", output.Driver)
			}
			if strings.Join(output.Applied, ",") != strings.Join(want, ",") {
				t.Fatalf("applied=%v, want %v", output.Applied, want)
			}
		}
	})
}

func TestRunMigrateUsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		args       []string
		wantStderr string
	}{
		{name: "positional", args: []string{"up"}, wantStderr: "does not accept positional arguments"},
		{name: "bad format", args: []string{"--format", "xml"}, wantStderr: "invalid migrate format"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var stdout bytes.Buffer
			var stderr bytes.Buffer
			if code := runMigrate(tt.args, &stdout, &stderr); code != 2 {
				t.Fatalf("runMigrate() code=%d, want 2", code)
			}
			if !strings.Contains(stderr.String(), tt.wantStderr) {
				t.Fatalf("stderr=%q, want %q", stderr.String(), tt.wantStderr)
			}
		})
	}
}
