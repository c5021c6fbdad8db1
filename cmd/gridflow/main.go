// gridflow - Structured-grid snapshot series converter
// Converts a folder of per-step .vts files into one compressed container
// plus an XDMF temporal descriptor.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gridflow/gridflow/pkg/config"
	"github.com/gridflow/gridflow/pkg/container"
	"github.com/gridflow/gridflow/pkg/convert"
	"github.com/gridflow/gridflow/pkg/tui"
	"github.com/gridflow/gridflow/pkg/vts"
	"github.com/gridflow/gridflow/pkg/watch"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	inputFolder      string
	outputFolder     string
	outputName       string
	compressionFlag  string
	compressionLevel int
	jobs             int
	stepPatternFlag  string
	silent           bool
	verbose          bool
	infoOnly         bool
	configSave       bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		(&tui.Printer{}).Fatal(err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gridflow [input-folder]",
	Short: "gridflow - Convert grid snapshot series to a single container",
	Long: `gridflow converts a folder of per-time-step structured-grid snapshots
(.vts, optionally gzipped) into one compressed container plus an XDMF
temporal-collection descriptor that tools like ParaView open directly.

Examples:
  gridflow ./channel_flow
  gridflow -i ./channel_flow -o ./results --output-name run42
  gridflow ./channel_flow --compression fast-lossless -j 8
  gridflow ./channel_flow --step-pattern 'snap([0-9]+)'
  gridflow ./channel_flow --info`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	Args:          cobra.MaximumNArgs(1),
	RunE:          runConvert,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration and its sources",
	Long: `Print the merged configuration (defaults, config files, environment)
as YAML, preceded by the config files that were loaded. With --save the
merged configuration is written to ~/.gridflow/config.yaml.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

var watchCmd = &cobra.Command{
	Use:   "watch [input-folder]",
	Short: "Watch a folder and rebuild on changes",
	Long: `Watch an input folder and re-run the full conversion whenever snapshot
files are added, changed, or removed. Rebuilds are debounced so a burst
of writes triggers a single conversion.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&inputFolder, "input-folder", "i", "", "Input folder containing .vts files")
	pf.StringVarP(&outputFolder, "output-folder", "o", "", "Output folder (default: input folder)")
	pf.StringVar(&outputName, "output-name", "", "Base name for output files (default: input folder name)")
	pf.StringVar(&compressionFlag, "compression", "", "Compression mode (none, fast-lossless, balanced-lossless)")
	pf.IntVar(&compressionLevel, "compression-level", 0, "Compression level 1-9")
	pf.IntVarP(&jobs, "jobs", "j", 0, "Parallel read workers (0 = one per CPU)")
	pf.StringVar(&stepPatternFlag, "step-pattern", "", "Regex with one capture group for the step number")
	pf.BoolVarP(&silent, "silent", "s", false, "Suppress progress output; only the final summary and errors are printed")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.Flags().BoolVar(&infoOnly, "info", false, "Inspect input files without converting")

	configCmd.Flags().BoolVar(&configSave, "save", false, "Write the effective configuration to ~/.gridflow/config.yaml")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	mgr := config.Global()

	for _, p := range mgr.GetPaths() {
		fmt.Printf("# loaded %s\n", p)
	}
	data, err := yaml.Marshal(mgr.Get())
	if err != nil {
		return err
	}
	fmt.Print(string(data))

	if configSave {
		if err := mgr.Save(); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "saved ~/.gridflow/config.yaml")
	}
	return nil
}

// buildConfig merges config files, environment, and flags into a job
// configuration. Flags win when set.
func buildConfig(cmd *cobra.Command, args []string) (convert.Config, error) {
	cfg := config.Global().Get()

	if inputFolder == "" && len(args) > 0 {
		inputFolder = args[0]
	}
	if inputFolder == "" {
		return convert.Config{}, fmt.Errorf("input folder required (positional argument or --input-folder)")
	}
	stat, err := os.Stat(inputFolder)
	if err != nil {
		return convert.Config{}, fmt.Errorf("input folder does not exist: %s", inputFolder)
	}
	if !stat.IsDir() {
		return convert.Config{}, fmt.Errorf("not a directory: %s", inputFolder)
	}

	compression := cfg.Conversion.Compression
	if compressionFlag != "" {
		compression = compressionFlag
	}
	codec, err := container.ParseCodec(compression)
	if err != nil {
		return convert.Config{}, err
	}
	level := cfg.Conversion.CompressionLevel
	if cmd.Flags().Changed("compression-level") {
		level = compressionLevel
	}
	if level < 1 || level > 9 {
		return convert.Config{}, fmt.Errorf("compression level %d out of range 1-9", level)
	}

	workers := cfg.Conversion.Workers
	if cmd.Flags().Changed("jobs") {
		workers = jobs
	}
	if workers < 0 {
		return convert.Config{}, fmt.Errorf("jobs must be >= 0")
	}

	pattern := cfg.Conversion.StepPattern
	if stepPatternFlag != "" {
		pattern = stepPatternFlag
	}
	var steps vts.StepPattern
	if pattern != "" {
		steps, err = vts.CompileStepPattern(pattern)
		if err != nil {
			return convert.Config{}, err
		}
	}

	outDir := cfg.Output.Dir
	if outputFolder != "" {
		outDir = outputFolder
	}
	outName := cfg.Output.Name
	if outputName != "" {
		outName = outputName
	}

	return convert.Config{
		InputDir:    inputFolder,
		OutputDir:   outDir,
		OutputName:  outName,
		Compression: container.Options{Codec: codec, Level: level},
		Workers:     workers,
		StepPattern: steps,
	}, nil
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, cleaning up...")
		cancel()
	}()
	return ctx, cancel
}

func runConvert(cmd *cobra.Command, args []string) error {
	jobCfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	printer := &tui.Printer{Silent: silent, Verbose: verbose}

	ctx, cancel := signalContext()
	defer cancel()

	if infoOnly {
		o := convert.New(jobCfg)
		reports, err := o.Inspect(ctx)
		if err != nil {
			return err
		}
		printer.Inspection(reports)
		return nil
	}

	if verbose && !silent {
		printer.Header(version)
		fmt.Printf("  Input:       %s\n", jobCfg.InputDir)
		fmt.Printf("  Compression: %s (level %d)\n", jobCfg.Compression.Codec, jobCfg.Compression.Level)
		fmt.Printf("  Workers:     %s\n", workersLabel(jobCfg.Workers))
		fmt.Println()
	}

	jobCfg.OnProgress = printer.Progress
	sum, err := convert.New(jobCfg).Run(ctx)
	if err != nil {
		return fmt.Errorf("conversion failed: %w", err)
	}

	printer.Summary(sum)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	jobCfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	printer := &tui.Printer{Silent: silent, Verbose: verbose}
	jobCfg.OnProgress = printer.Progress

	ctx, cancel := signalContext()
	defer cancel()

	debounce := config.Global().Get().Watch.Debounce
	w, err := watch.NewWatcher(jobCfg.InputDir, debounce)
	if err != nil {
		return err
	}
	defer w.Close()

	w.OnBatch = func() error {
		sum, err := convert.New(jobCfg).Run(ctx)
		if err != nil {
			return err
		}
		printer.Summary(sum)
		return nil
	}
	w.OnError = func(err error) {
		fmt.Fprintf(os.Stderr, "rebuild failed: %v\n", err)
	}

	if !silent {
		fmt.Printf("Watching %s (debounce %s), Ctrl-C to stop...\n", jobCfg.InputDir, debounce)
	}

	// Initial conversion, then rebuild on changes. A missing or empty
	// folder at startup is fine in watch mode; files may arrive later.
	if err := w.OnBatch(); err != nil && !silent {
		fmt.Fprintf(os.Stderr, "initial conversion: %v\n", err)
	}

	if err := w.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func workersLabel(n int) string {
	if n == 0 {
		return "auto"
	}
	return fmt.Sprintf("%d", n)
}
