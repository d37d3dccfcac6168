// chunkrun exercises a search plugin binary from the command line: it plays
// the host side of the chunked exchange, feeding the plugin a simulated
// search and printing what comes back. Useful for developing plugins without
// a search head anywhere near.
package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/searchplug/internal/host"
	"github.com/mattjoyce/searchplug/internal/runtime"
)

var (
	inputPath     string
	maxResultRows int
	timeout       time.Duration
	verbose       bool
)

var rootCmd = &cobra.Command{
	Use:   "chunkrun <plugin-binary> [search-arg...]",
	Short: "Run a search plugin through a simulated chunked exchange",
	Long: `chunkrun spawns a plugin binary and drives the getinfo/execute protocol
against it, the way the search host would. Search arguments after the
binary path are passed verbatim, options and fieldnames alike:

  chunkrun ./bin/sum --input events.csv total=amount linecount
  chunkrun ./bin/generatehello count=5

Input records come from --input as CSV with a header row; omit it to run
the plugin with no input, which is what generating plugins expect.`,
	Args: cobra.MinimumNArgs(1),
	RunE: run,
}

func main() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&inputPath, "input", "i", "",
		"CSV file of input records ('-' for stdin)")
	rootCmd.Flags().IntVar(&maxResultRows, "maxresultrows", 0,
		"flush threshold to negotiate (0 leaves the plugin's default)")
	rootCmd.Flags().DurationVar(&timeout, "timeout", time.Minute,
		"kill the plugin after this long")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false,
		"show negotiated settings and plugin stderr")
}

func run(cmd *cobra.Command, args []string) error {
	input, err := readInput()
	if err != nil {
		return err
	}

	rt := runtime.New()
	driver := host.New(rt.Logger)

	result, err := driver.Run(cmd.Context(), args[0], host.Invocation{
		Args:          args[1:],
		Input:         input,
		MaxResultRows: maxResultRows,
		Timeout:       timeout,
	})
	if err != nil {
		return err
	}

	render(cmd.OutOrStdout(), result)

	if result.ExitCode != 0 {
		return fmt.Errorf("plugin exited with status %d", result.ExitCode)
	}
	return nil
}

func readInput() ([]byte, error) {
	switch inputPath {
	case "":
		return nil, nil
	case "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return data, nil
	default:
		data, err := os.ReadFile(inputPath)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		return data, nil
	}
}

var (
	heading  = color.New(color.FgCyan, color.Bold)
	colError = color.New(color.FgRed, color.Bold)
	colWarn  = color.New(color.FgYellow)
	colDim   = color.New(color.Faint)
)

func render(w io.Writer, result *host.Result) {
	if verbose && len(result.Settings) > 0 {
		heading.Fprintln(w, "settings")
		names := make([]string, 0, len(result.Settings))
		for name := range result.Settings {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %s=%v\n", name, result.Settings[name])
		}
	}

	for _, msg := range result.Messages {
		painter := colDim
		switch msg[0] {
		case "ERROR":
			painter = colError
		case "WARN":
			painter = colWarn
		}
		painter.Fprintf(w, "%s %s\n", msg[0], msg[1])
	}

	for _, batch := range result.Batches {
		if batch.Partial {
			colDim.Fprintln(w, "-- partial flush --")
		}
		fmt.Fprintln(w, strings.Join(batch.Columns, "\t"))
		for _, row := range batch.Rows {
			cells := make([]string, len(row))
			for i, cell := range row {
				// Keep multi-values on one display line.
				cells[i] = strings.ReplaceAll(cell, "\n", "; ")
			}
			fmt.Fprintln(w, strings.Join(cells, "\t"))
		}
	}

	colDim.Fprintf(w, "%d record(s)\n", result.Records())

	if verbose && result.Stderr != "" {
		heading.Fprintln(w, "plugin stderr")
		fmt.Fprintln(w, strings.TrimRight(result.Stderr, "\n"))
	}
}
