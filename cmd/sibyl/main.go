package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sibyl-run/sibyl/pkg/agentdef"
	"github.com/sibyl-run/sibyl/pkg/audit"
	"github.com/sibyl-run/sibyl/pkg/capability"
	"github.com/sibyl-run/sibyl/pkg/config"
	"github.com/sibyl-run/sibyl/pkg/engine"
	"github.com/sibyl-run/sibyl/pkg/loader"
	"github.com/sibyl-run/sibyl/pkg/telemetry"
)

const version = "dev"

type globalFlags struct {
	ConfigPath string
	JSON       bool
	Help       bool
}

type validateResult struct {
	File      string   `json:"file"`
	Valid     bool     `json:"valid"`
	Agent     string   `json:"agent,omitempty"`
	Skills    int      `json:"skills"`
	Templates int      `json:"templates"`
	Flows     int      `json:"flows"`
	Errors    []string `json:"errors,omitempty"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(err)
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	cfg, err := config.Load(global.ConfigPath)
	if err != nil {
		fatal(err)
	}

	switch args[0] {
	case "validate":
		runValidate(global, args[1:])
	case "inspect":
		runInspect(global, args[1:])
	case "run":
		runProcess(ctx, global, cfg, args[1:])
	case "help":
		printUsage()
	case "version":
		printVersion()
	default:
		fatal(fmt.Errorf("unknown command %q", args[0]))
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var flags globalFlags
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--config":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --config")
			}
			flags.ConfigPath = args[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			flags.ConfigPath = strings.TrimPrefix(arg, "--config=")
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

func runValidate(flags globalFlags, args []string) {
	if len(args) != 1 {
		fatal(errors.New("usage: sibyl validate <file>"))
	}
	path := args[0]
	result := validateResult{File: path}

	messages, err := loader.LoadFile(path)
	if err != nil {
		reportValidation(flags, result, err)
		return
	}
	agent, err := agentdef.Build(messages)
	if err != nil {
		reportValidation(flags, result, err)
		return
	}
	result.Agent = agent.Name
	result.Skills = len(agent.Skills())
	result.Templates = len(agent.Templates())

	eng, err := engine.New(messages, stubRegistry(agent))
	if err != nil {
		reportValidation(flags, result, err)
		return
	}
	result.Flows = eng.Flows().Len()
	result.Valid = true
	reportValidation(flags, result, nil)
}

func reportValidation(flags globalFlags, result validateResult, err error) {
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	if flags.JSON {
		printJSON(result)
	} else if result.Valid {
		fmt.Printf("%s: ok (agent=%s skills=%d templates=%d flows=%d)\n",
			result.File, result.Agent, result.Skills, result.Templates, result.Flows)
	} else {
		fmt.Printf("%s: invalid\n", result.File)
		for _, msg := range result.Errors {
			fmt.Printf("  %s\n", msg)
		}
	}
	if !result.Valid {
		os.Exit(1)
	}
}

func runInspect(flags globalFlags, args []string) {
	if len(args) != 1 {
		fatal(errors.New("usage: sibyl inspect <file>"))
	}
	messages, err := loader.LoadFile(args[0])
	if err != nil {
		fatal(err)
	}
	agent, err := agentdef.Build(messages)
	if err != nil {
		fatal(err)
	}
	eng, err := engine.New(messages, stubRegistry(agent))
	if err != nil {
		fatal(err)
	}

	if flags.JSON {
		out := map[string]any{
			"agent":      agent.Name,
			"directive":  agent.Directive,
			"core_rules": agent.CoreRules,
			"skills":     skillRows(agent),
			"templates":  templateRows(agent),
			"flows":      flowRows(eng),
		}
		printJSON(out)
		return
	}

	fmt.Printf("Agent: %s\n", agent.Name)
	if agent.Directive != "" {
		fmt.Printf("Directive: %s\n", agent.Directive)
	}
	fmt.Printf("Core rules: %d\n", len(agent.CoreRules))
	for _, rule := range agent.CoreRules {
		fmt.Printf("  - %s\n", rule)
	}

	writer := newTabWriter()
	writeRow(writer, "SKILL", "VISIBILITY", "PARAMS")
	for _, skill := range agent.Skills() {
		writeRow(writer, skill.Name, string(skill.Visibility), formatParams(skill.Params))
	}
	_ = writer.Flush()

	writer = newTabWriter()
	writeRow(writer, "TEMPLATE", "STATUS", "SECTIONS")
	for _, template := range agent.Templates() {
		names := make([]string, 0, len(template.Sections))
		for _, section := range template.Sections {
			names = append(names, section.Name)
		}
		writeRow(writer, template.Key, strconv.Itoa(template.Status), strings.Join(names, ", "))
	}
	_ = writer.Flush()

	writer = newTabWriter()
	writeRow(writer, "FLOW", "STATUSES")
	for _, def := range eng.Flows().Flows() {
		statuses := make([]string, 0, 2)
		for _, status := range def.Statuses() {
			statuses = append(statuses, strconv.Itoa(status))
		}
		writeRow(writer, def.ID, strings.Join(statuses, ", "))
	}
	_ = writer.Flush()
}

func runProcess(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	flowID := cmd.String("flow", cfg.Engine.DefaultFlow, "Flow to evaluate")
	input := cmd.String("input", "", "Input text; empty means absent input")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	if cmd.NArg() != 1 {
		fatal(errors.New("usage: sibyl run <file> [--flow <id>] [--input <text>]"))
	}

	telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	shutdown, err := telemetry.InitWithConfig("sibyl", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		fatal(err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}()

	metrics, err := telemetry.NewEngineMetrics()
	if err != nil {
		fatal(err)
	}

	if flags.ConfigPath != "" {
		watcher, err := config.NewWatcher(flags.ConfigPath)
		if err != nil {
			fatal(err)
		}
		watcher.OnChange(func(next *config.Config) {
			telemetry.SetLogLevel(next.Log.Level)
		})
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	messages, err := loader.LoadFile(cmd.Arg(0))
	if err != nil {
		fatal(err)
	}
	agent, err := agentdef.Build(messages)
	if err != nil {
		fatal(err)
	}

	store, closeStore, err := openAuditStore(cfg)
	if err != nil {
		fatal(err)
	}
	defer closeStore()

	eng, err := engine.New(messages, stubRegistry(agent),
		engine.WithCapabilityTimeout(cfg.Engine.CapabilityTimeout),
		engine.WithAuditStore(store),
		engine.WithMetrics(metrics),
	)
	if err != nil {
		fatal(err)
	}

	var in any
	if *input != "" {
		in = *input
	}
	response, err := eng.Process(ctx, in, engine.WithFlow(*flowID))
	if err != nil {
		fatal(err)
	}

	if flags.JSON {
		printJSON(response)
		return
	}
	fmt.Printf("status=%d template=%s\n", response.Status, response.Template)
	for _, section := range response.Sections {
		fmt.Printf("[%s]\n", section.Name)
		for _, result := range section.Results {
			fmt.Printf("  %v\n", result)
		}
	}
}

func openAuditStore(cfg *config.Config) (audit.Store, func(), error) {
	switch cfg.Audit.Driver {
	case "", "memory":
		return audit.NewMemoryStore(), func() {}, nil
	case "sqlite":
		store, err := audit.Open(cfg.Audit.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown audit driver %q", cfg.Audit.Driver)
	}
}

// stubRegistry binds every declared skill to an echo callable so wiring
// validation and dry runs can dispatch without real implementations.
func stubRegistry(agent *agentdef.AgentDefinition) *capability.Registry {
	registry := capability.NewRegistry()
	for _, skill := range agent.Skills() {
		name := skill.Name
		_ = registry.Register("agent.skills."+name,
			func(_ context.Context, args []capability.ArgValue) (any, error) {
				values := make([]any, 0, len(args))
				for _, arg := range args {
					values = append(values, arg.Value)
				}
				return map[string]any{"skill": name, "args": values}, nil
			})
	}
	return registry
}

func skillRows(agent *agentdef.AgentDefinition) []map[string]any {
	out := make([]map[string]any, 0)
	for _, skill := range agent.Skills() {
		out = append(out, map[string]any{
			"name":       skill.Name,
			"visibility": string(skill.Visibility),
			"params":     formatParams(skill.Params),
		})
	}
	return out
}

func templateRows(agent *agentdef.AgentDefinition) []map[string]any {
	out := make([]map[string]any, 0)
	for _, template := range agent.Templates() {
		names := make([]string, 0, len(template.Sections))
		for _, section := range template.Sections {
			names = append(names, section.Name)
		}
		out = append(out, map[string]any{
			"key":      template.Key,
			"status":   template.Status,
			"sections": names,
		})
	}
	return out
}

func flowRows(eng *engine.Engine) []map[string]any {
	out := make([]map[string]any, 0)
	for _, def := range eng.Flows().Flows() {
		out = append(out, map[string]any{
			"id":       def.ID,
			"statuses": def.Statuses(),
		})
	}
	return out
}

func formatParams(params []agentdef.Param) string {
	parts := make([]string, 0, len(params))
	for _, param := range params {
		if param.Type != "" {
			parts = append(parts, param.Name+": "+param.Type)
			continue
		}
		parts = append(parts, param.Name)
	}
	return strings.Join(parts, ", ")
}

func printJSON(value any) {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(payload))
}

func newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
}

func writeRow(writer *tabwriter.Writer, cols ...string) {
	for i, col := range cols {
		col = strings.TrimSpace(col)
		if col == "" {
			col = "-"
		}
		cols[i] = strings.Join(strings.Fields(col), " ")
	}
	fmt.Fprintln(writer, strings.Join(cols, "\t"))
}

func printVersion() {
	fmt.Println(version)
}

func printUsage() {
	fmt.Print(`Sibyl CLI

Usage:
  sibyl [global flags] <command> [args]

Global flags:
  --config <path>      Path to config YAML
  --json               JSON output

Commands:
  validate <file>                             Check an agent definition
  inspect <file>                              Show the built agent model
  run <file> [--flow <id>] [--input <text>]   Dry-run one input with echo skills
  version
`)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
