package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/maxvaer/lbscan/internal/config"
	"github.com/maxvaer/lbscan/internal/runner"
	"github.com/maxvaer/lbscan/pkg/version"
)

var opts = config.Default()

type flagGroup struct {
	title string
	flags []string
}

var helpGroups = []flagGroup{
	{"TARGET", []string{"url", "addr", "all-addrs"}},
	{"SCAN", []string{"scan-time", "parallelism", "probe-timeout", "converge-after", "max-failures"}},
	{"RATE-LIMIT", []string{"delay", "adaptive-throttle"}},
	{"FINGERPRINT", []string{"ignore-header"}},
	{"HTTP", []string{"header", "user-agent"}},
	{"OUTPUT", []string{"output", "format", "quiet", "no-color", "verbose", "debug", "on-backend"}},
	{"CLUES", []string{"save", "clue-file"}},
}

var rootCmd = &cobra.Command{
	Use:     "lbscan [flags] <url>",
	Short:   "HTTP load balancer detector",
	Version: version.Version,
	Args:    cobra.MaximumNArgs(1),
	Long: `lbscan finds out whether several real servers answer behind one HTTP
endpoint. It sends many requests in parallel for a few seconds and groups
the responses by their header fingerprint; each distinct fingerprint is
one backend.`,
	Example: `  lbscan https://example.com
  lbscan -u https://example.com -t 30s -p 40
  lbscan -u https://example.com --all-addrs
  lbscan -u https://example.com -a 192.0.2.10 --ignore-header x-request-id
  lbscan -u https://example.com --save clues.json
  lbscan -c clues.json --ignore-header etag
  lbscan -u https://example.com -o report.json --format json
  lbscan -u https://example.com --on-backend 'notify-send {url} "$LBSCAN_SERVER"'`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			if cmd.Flags().Changed("url") {
				return fmt.Errorf("target given twice: use either -u or a positional URL")
			}
			opts.URL = args[0]
		}
		if opts.URL == "" && opts.ClueFile == "" {
			_ = cmd.Help()
			fmt.Fprintln(os.Stderr)
			return fmt.Errorf("target required: use -u or --clue-file")
		}
		headers, _ := cmd.Flags().GetStringSlice("header")
		h, err := parseHeaders(headers)
		if err != nil {
			return err
		}
		opts.Headers = h
		return opts.Validate()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger(opts.Debug, opts.Quiet)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return runner.Run(ctx, &opts, log)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	f := rootCmd.Flags()

	// Target
	f.StringVarP(&opts.URL, "url", "u", "", "Target URL")
	f.StringVarP(&opts.Addr, "addr", "a", "", "Connect to this IP address instead of resolving the host")
	f.BoolVar(&opts.AllAddrs, "all-addrs", false, "Scan every address the host resolves to")

	// Scan
	f.DurationVarP(&opts.ScanTime, "scan-time", "t", config.DefaultScanTime, "Time to spend probing each address")
	f.IntVarP(&opts.Parallelism, "parallelism", "p", config.DefaultParallelism, "Number of probes in flight")
	f.DurationVar(&opts.ProbeTimeout, "probe-timeout", config.DefaultProbeTimeout, "Timeout of a single probe")
	f.IntVar(&opts.ConvergeAfter, "converge-after", config.DefaultConvergeAfter, "Stop after this many responses without a new fingerprint (0 to disable)")
	f.IntVar(&opts.MaxFailures, "max-failures", config.DefaultMaxFailures, "Abort after this many failed probes in a row (0 for no limit)")

	// Pacing
	f.DurationVar(&opts.Delay, "delay", 0, "Delay between probes per worker")
	f.BoolVar(&opts.AdaptiveThrottle, "adaptive-throttle", false, "Auto back-off on 429/503 and errors")

	// Fingerprint
	f.StringSliceVar(&opts.IgnoreHeaders, "ignore-header", nil, "Extra header fields left out of the fingerprint (date, expires, age and set-cookie always are)")

	// HTTP
	f.StringSliceP("header", "H", nil, "Custom headers (Key: Value)")
	f.StringVar(&opts.UserAgent, "user-agent", "", "Custom User-Agent string")

	// Output
	f.StringVarP(&opts.OutputFile, "output", "o", "", "Output file path")
	f.StringVar(&opts.OutputFormat, "format", "text", "Output format: text, json, csv, yaml")
	f.BoolVarP(&opts.Quiet, "quiet", "q", false, "Only print the report and errors")
	f.BoolVar(&opts.NoColor, "no-color", false, "Disable colored output")
	f.BoolVarP(&opts.Verbose, "verbose", "v", false, "Report scan progress details")
	f.BoolVar(&opts.Debug, "debug", false, "Log every probe and list all headers per backend")

	// Clues
	f.StringVar(&opts.SaveFile, "save", "", "Save the collected clues to this file")
	f.StringVarP(&opts.ClueFile, "clue-file", "c", "", "Analyze clues saved with --save instead of scanning")

	// Hooks
	f.StringVar(&opts.OnBackendCmd, "on-backend", "", "Shell command to run for each detected backend (receives JSON on stdin)")

	// Custom help: categorized flags.
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		w := os.Stderr
		fmt.Fprint(w, helpBanner(cmd.Version))
		fmt.Fprintf(w, "%s\n\nUsage:\n  %s\n", cmd.Long, cmd.UseLine())
		fmt.Fprintf(w, "\nExamples:\n%s\n", cmd.Example)
		fmt.Fprintf(w, "\nFlags:\n")
		for _, g := range helpGroups {
			fmt.Fprintf(w, "\n%s:\n", g.title)
			for _, name := range g.flags {
				if f := cmd.Flags().Lookup(name); f != nil {
					fmt.Fprintln(w, formatFlag(f))
				}
			}
		}
		fmt.Fprintln(w)
	})
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, runner.ErrInconclusive) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// parseHeaders turns "Key: Value" flags into a map.
func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		parts := strings.SplitN(h, ":", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("invalid header format %q, expected 'Key: Value'", h)
		}
		headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return headers, nil
}

func formatFlag(f *pflag.Flag) string {
	var left string
	if f.Shorthand != "" {
		left = fmt.Sprintf("-%s, --%s", f.Shorthand, f.Name)
	} else {
		left = fmt.Sprintf("    --%s", f.Name)
	}

	typ := f.Value.Type()
	if typ != "bool" {
		left += " " + typ
	}

	// Pad to fixed column width for aligned descriptions.
	const col = 36
	for len(left) < col {
		left += " "
	}

	right := f.Usage
	def := f.DefValue
	if def != "" && def != "false" && def != "0" && def != "0s" && def != "[]" {
		right += fmt.Sprintf(" (default %s)", def)
	}

	return "   " + left + right
}

func helpBanner(ver string) string {
	if ver != "dev" && ver != "" && !strings.HasPrefix(ver, "v") {
		ver = "v" + ver
	}
	return fmt.Sprintf(`
  _ _
 | | |__  ___  ___ __ _ _ __
 | | '_ \/ __|/ __/ _`+"`"+` | '_ \
 | | |_) \__ \ (_| (_| | | | |
 |_|_.__/|___/\___\__,_|_| |_|   %s

`, ver)
}
