package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/skuraya/conductor/internal/commander"
	"github.com/skuraya/conductor/internal/model"
	"github.com/skuraya/conductor/internal/notify"
	"github.com/skuraya/conductor/internal/scenario"
	"github.com/skuraya/conductor/internal/uds"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit(os.Args[2:])
	case "daemon":
		runDaemon(os.Args[2:])
	case "place":
		runPlace(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "drain":
		runDrain(os.Args[2:])
	case "shutdown":
		runShutdown(os.Args[2:])
	case "scenario":
		runScenario(os.Args[2:])
	case "notify":
		runNotify(os.Args[2:])
	case "version":
		fmt.Printf("conductor %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runInit(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: conductor init <project_dir>")
		os.Exit(1)
	}

	dir := filepath.Join(args[0], ".conductor")
	if err := os.MkdirAll(dir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}

	cfgPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Fprintf(os.Stderr, "init: %s already exists\n", cfgPath)
		os.Exit(1)
	}

	var cfg model.Config
	cfg.ApplyDefaults()
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(cfgPath, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}

	absDir, _ := filepath.Abs(args[0])
	fmt.Printf("Initialized .conductor/ in %s\n", absDir)
}

func runDaemon(_ []string) {
	conductorDir := mustFindConductorDir()

	cfg, err := model.LoadConfig(conductorDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	d, err := commander.NewDaemon(conductorDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create daemon: %v\n", err)
		os.Exit(1)
	}

	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

func runPlace(args []string) {
	var user, address, item, priceRaw string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--user":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--user requires a value")
				os.Exit(1)
			}
			i++
			user = args[i]
		case "--address":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--address requires a value")
				os.Exit(1)
			}
			i++
			address = args[i]
		case "--item":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--item requires a value")
				os.Exit(1)
			}
			i++
			item = args[i]
		case "--price":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--price requires a value")
				os.Exit(1)
			}
			i++
			priceRaw = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: conductor place --user <name> --address <addr> --item <item> --price <amount>\n", args[i])
			os.Exit(1)
		}
	}

	if user == "" || address == "" || item == "" || priceRaw == "" {
		fmt.Fprintln(os.Stderr, "usage: conductor place --user <name> --address <addr> --item <item> --price <amount>")
		os.Exit(1)
	}

	price, err := strconv.ParseFloat(priceRaw, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --price value: %s\n", priceRaw)
		os.Exit(1)
	}

	sendDaemonCommand("place_order", map[string]any{
		"user":    user,
		"address": address,
		"item":    item,
		"price":   price,
	})
}

func runStatus(args []string) {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: conductor status [--json]\n", a)
			os.Exit(1)
		}
	}

	conductorDir := mustFindConductorDir()

	client := uds.NewClient(filepath.Join(conductorDir, uds.DefaultSocketName))
	resp, err := client.SendCommand("status", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
	if !resp.Success {
		failResponse("status", resp)
	}

	if jsonOutput {
		out, _ := json.MarshalIndent(json.RawMessage(resp.Data), "", "  ")
		fmt.Println(string(out))
		return
	}

	var st struct {
		OrdersPlaced int64 `json:"orders_placed"`
		QueueDepth   int32 `json:"queue_depth"`
		Orders       []struct {
			ID        string `json:"id"`
			Payment   string `json:"payment"`
			Message   string `json:"message"`
			Escalated bool   `json:"escalated"`
		} `json:"orders"`
	}
	if err := json.Unmarshal(resp.Data, &st); err != nil {
		fmt.Fprintf(os.Stderr, "status: parse response: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("orders placed: %d\nqueue depth: %d\n", st.OrdersPlaced, st.QueueDepth)
	if len(st.Orders) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ORDER\tPAYMENT\tMESSAGE\tESCALATED")
		for _, o := range st.Orders {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", o.ID, o.Payment, o.Message, o.Escalated)
		}
		w.Flush()
	}
}

func runDrain(_ []string) {
	sendDaemonCommand("drain", nil)
}

func runShutdown(_ []string) {
	sendDaemonCommand("shutdown", nil)
}

func runScenario(args []string) {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}

	logger := log.New(os.Stderr, "", 0)

	if name == "" || name == "all" {
		results, err := scenario.RunAll(logger, commander.LogLevelInfo)
		if err != nil {
			fmt.Fprintf(os.Stderr, "scenario: %v\n", err)
			os.Exit(1)
		}
		printScenarioResults(results)
		return
	}

	for _, s := range scenario.Catalog() {
		if s.Name != name {
			continue
		}
		res, err := s.Run(logger, commander.LogLevelDebug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "scenario: %v\n", err)
			os.Exit(1)
		}
		printScenarioResults([]scenario.Result{res})
		return
	}

	fmt.Fprintf(os.Stderr, "unknown scenario: %s\n\navailable:\n", name)
	for _, s := range scenario.Catalog() {
		fmt.Fprintf(os.Stderr, "  %-40s %s\n", s.Name, s.Description)
	}
	os.Exit(1)
}

func printScenarioResults(results []scenario.Result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCENARIO\tPAYMENT\tMESSAGE\tESCALATED\tCHARGES\tTICKETS")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%d\t%d\n",
			r.Name, r.Payment, r.Message, r.Escalated, r.Charges, r.Tickets)
	}
	w.Flush()
}

func runNotify(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: conductor notify <title> <message>")
		os.Exit(1)
	}
	if err := notify.Send(args[0], args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "notify: %v\n", err)
		os.Exit(1)
	}
}

func sendDaemonCommand(command string, params map[string]any) {
	conductorDir := mustFindConductorDir()

	client := uds.NewClient(filepath.Join(conductorDir, uds.DefaultSocketName))
	resp, err := client.SendCommand(command, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
		os.Exit(1)
	}
	if !resp.Success {
		failResponse(command, resp)
	}

	out, _ := json.MarshalIndent(json.RawMessage(resp.Data), "", "  ")
	fmt.Println(string(out))
}

func failResponse(command string, resp *uds.Response) {
	code := ""
	msg := "unknown error"
	if resp.Error != nil {
		code = resp.Error.Code
		msg = resp.Error.Message
	}
	fmt.Fprintf(os.Stderr, "%s failed [%s]: %s\n", command, code, msg)
	os.Exit(1)
}

func mustFindConductorDir() string {
	dir := findConductorDir()
	if dir == "" {
		fmt.Fprintln(os.Stderr, "error: .conductor/ directory not found. Run 'conductor init <dir>' first.")
		os.Exit(1)
	}
	return dir
}

// findConductorDir searches for .conductor/ in the current directory and ancestors.
func findConductorDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".conductor")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `conductor %s — Order pipeline coordinator

Usage: conductor <command> [options]

Setup:
  init <dir>        Initialize .conductor/ directory

Orders (CLI → Daemon):
  place [options]   Place an order through the running daemon
  status [--json]   Show daemon and order status
  drain             Kick the work queue drain loop
  shutdown          Gracefully stop the daemon

Internal:
  daemon            Run the coordinator daemon

Utilities:
  scenario [name]   Run scripted fault scenarios (default: all)
  notify <title> <msg>  macOS notification
  version           Show version
  help              Show this help

`, version)
}
