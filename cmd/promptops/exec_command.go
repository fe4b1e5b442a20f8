package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ongoingai/promptops/internal/executor"
	"github.com/ongoingai/promptops/internal/observability"
	"github.com/ongoingai/promptops/internal/prompt"
	"github.com/ongoingai/promptops/internal/version"
)

type execOutput struct {
	Response any    `json:"response"`
	LogID    string `json:"log_id"`
	TraceID  string `json:"trace_id"`
}

type execErrorOutput struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// runExec performs one execution in-process. The inline scheduler writes
// the execution log before the command returns.
func runExec(args []string, in io.Reader, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("exec", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	tenant := flagSet.String("tenant", "", "Tenant to execute as (defaults to auth.tenant)")
	projectFlag := flagSet.String("project", "", "Project id or slug")
	promptFlag := flagSet.String("prompt", "", "Prompt id or slug")
	varsFlag := flagSet.String("vars", "", "Template variables as a JSON object")
	varsFile := flagSet.String("vars-file", "", "Read template variables from a JSON file ('-' for stdin)")
	traceParentFlag := flagSet.String("traceparent", "", "W3C traceparent to continue")
	formatFlag := flagSet.String("format", "text", "Output format: text or json")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "exec does not accept positional arguments")
		return 2
	}
	format, err := normalizeTextJSONFormat("exec", *formatFlag, "text")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	projectRef, err := prompt.ParseRef(*projectFlag)
	if err != nil {
		fmt.Fprintln(errOut, "exec requires --project")
		return 2
	}
	promptRef, err := prompt.ParseRef(*promptFlag)
	if err != nil {
		fmt.Fprintln(errOut, "exec requires --prompt")
		return 2
	}
	if *varsFlag != "" && *varsFile != "" {
		fmt.Fprintln(errOut, "exec accepts only one of --vars and --vars-file")
		return 2
	}
	variables, err := readExecVariables(*varsFlag, *varsFile, in)
	if err != nil {
		fmt.Fprintf(errOut, "invalid variables: %v\n", err)
		return 2
	}

	cfg, ok := loadConfigOrReport(*configPath, errOut)
	if !ok {
		return 1
	}
	tenantID := strings.TrimSpace(*tenant)
	if tenantID == "" {
		tenantID = strings.TrimSpace(cfg.Auth.Tenant)
	}

	// Command output goes to out; operational logs go to errOut.
	logger := newLogger(errOut)
	ctx := context.Background()
	otelRuntime, otelErr := observability.Setup(ctx, cfg.Observability.OTel, version.String(), logger)
	if otelErr != nil {
		logger.Error("failed to initialize opentelemetry; continuing with instrumentation disabled", "error", otelErr)
	}
	if otelRuntime != nil {
		defer shutdownOpenTelemetry(logger, otelRuntime, otelShutdownTimeout)
	}

	deps, err := buildDependencies(ctx, cfg, logger, otelRuntime, newInlineScheduler(cfg, logger, otelRuntime))
	if err != nil {
		fmt.Fprintf(errOut, "failed to initialize: %v\n", err)
		return 1
	}
	defer deps.Close(logger)

	response, err := deps.Executor.Execute(ctx, executor.Request{
		TenantID:    tenantID,
		Project:     projectRef,
		Prompt:      promptRef,
		Variables:   variables,
		TraceParent: strings.TrimSpace(*traceParentFlag),
	})
	if err != nil {
		return writeExecError(out, errOut, format, err)
	}
	if err := writeExecOutput(out, format, response); err != nil {
		fmt.Fprintf(errOut, "failed to write output: %v\n", err)
		return 1
	}
	return 0
}

func readExecVariables(inline, path string, in io.Reader) (map[string]any, error) {
	var raw []byte
	switch {
	case inline != "":
		raw = []byte(inline)
	case path == "-":
		data, err := io.ReadAll(in)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		raw = data
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", path, err)
		}
		raw = data
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var variables map[string]any
	if err := decoder.Decode(&variables); err != nil {
		return nil, err
	}
	if decoder.More() {
		return nil, errors.New("multiple JSON values")
	}
	return variables, nil
}

func writeExecOutput(out io.Writer, format string, response *executor.Response) error {
	if format == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(execOutput{
			Response: response.Response,
			LogID:    response.LogID,
			TraceID:  response.TraceID,
		})
	}

	switch value := response.Response.(type) {
	case string:
		fmt.Fprintln(out, value)
	default:
		body, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(body))
	}
	fmt.Fprintf(out, "log_id: %s\n", response.LogID)
	fmt.Fprintf(out, "trace_id: %s\n", response.TraceID)
	return nil
}

func writeExecError(out io.Writer, errOut io.Writer, format string, err error) int {
	status := executor.StatusCode(err)
	message := executor.PublicMessage(err)
	if format == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(execErrorOutput{Error: message, Status: status})
	} else {
		fmt.Fprintf(errOut, "execution failed (%d): %s\n", status, message)
	}
	return 1
}
