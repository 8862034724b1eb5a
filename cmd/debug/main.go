package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/thatsimonsguy/uf-controller/db"
	"github.com/thatsimonsguy/uf-controller/internal/config"
	"github.com/thatsimonsguy/uf-controller/internal/gpio"
	"github.com/thatsimonsguy/uf-controller/internal/model"
	"github.com/thatsimonsguy/uf-controller/internal/pinctrl"
	"github.com/thatsimonsguy/uf-controller/internal/store"
	"github.com/thatsimonsguy/uf-controller/system/startup"
)

const commands = "list-runs, show-timings, set-timing, reset-timings, pins, install"

var (
	readPins = pinctrl.ReadAllPins
	install  = startup.Install
)

func main() {
	if err := DebugCLI(os.Args[1:], os.Stdout); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// DebugCLI works on the files directly. Timing changes made here are picked
// up by the controller at its next start.
func DebugCLI(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("uf-debug", flag.ContinueOnError)
	fs.SetOutput(out)
	configFile := fs.String("config-file", "config.yaml", "Path to controller config file")
	command := fs.String("cmd", "", "Command to run: "+commands)
	process := fs.String("process", "", "Process name for set-timing")
	ms := fs.Int64("ms", 0, "Running duration in milliseconds for set-timing")
	limit := fs.Int("limit", 20, "Number of runs for list-runs")
	help := fs.Bool("help", false, "Show help")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *help || *command == "" {
		fmt.Fprintln(out, "\nUsage of uf-debug:")
		fmt.Fprintln(out, "  -config-file string\tPath to controller config file (default 'config.yaml')")
		fmt.Fprintln(out, "  -cmd string\tCommand to run: "+commands)
		fmt.Fprintln(out, "  -process string\tProcess name for set-timing (fast_rinse, service, back_wash, forward_wash)")
		fmt.Fprintln(out, "  -ms int\tRunning duration in milliseconds for set-timing")
		fmt.Fprintln(out, "  -limit int\tNumber of runs for list-runs (default 20)")
		fmt.Fprintln(out, "  -help\tShow this help message")
		return nil
	}

	data, err := os.ReadFile(*configFile)
	if err != nil {
		return fmt.Errorf("Error: failed to read config: %w", err)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return fmt.Errorf("Error: invalid config: %w", err)
	}
	timings := store.New(cfg.TimingsFile)

	switch *command {
	case "list-runs":
		err = db.PrintRunsCLI(out, cfg.Journal.Path, *limit)
	case "show-timings":
		printTimings(out, timings.Load())
	case "set-timing":
		if _, ok := model.Lookup(model.ProcessName(*process)); !ok {
			return fmt.Errorf("Error: unknown process %q", *process)
		}
		if *ms <= 0 {
			return errors.New("Error: -ms must be positive")
		}
		t := timings.Load()
		t[model.ProcessName(*process)] = *ms
		err = timings.Save(t)
		if err == nil {
			printTimings(out, t)
		}
	case "reset-timings":
		err = timings.Save(store.Defaults())
	case "pins":
		err = printPins(out, cfg)
	case "install":
		err = install(cfg)
	default:
		return fmt.Errorf("Invalid command %q", *command)
	}

	if err != nil {
		return fmt.Errorf("Command %s failed: %w", *command, err)
	}
	fmt.Fprintf(out, "Command %s completed successfully\n", *command)
	return nil
}

func printTimings(out io.Writer, t store.Table) {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, string(name))
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-13s %d ms\n", name, t[model.ProcessName(name)])
	}
}

// printPins dumps the pinctrl view of every relay pin. Active-low relays read
// "lo" while energized.
func printPins(out io.Writer, cfg config.Config) error {
	states, err := readPins()
	if err != nil {
		return err
	}
	for _, spec := range gpio.SpecsFromConfig(cfg) {
		ps, ok := states[spec.Pin.Number]
		if !ok {
			fmt.Fprintf(out, "  %d  %-16s GPIO%-3d not reported\n", spec.ID, spec.Label, spec.Pin.Number)
			continue
		}
		fmt.Fprintf(out, "  %d  %-16s GPIO%-3d %s %s %s\n", spec.ID, spec.Label, spec.Pin.Number, ps.Mode, ps.Drive, ps.Level)
	}
	return nil
}
