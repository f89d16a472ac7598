/**
 * QuickCuts align - command-line front end
 *
 * Aligns the target word across a set of images locally, or submits the
 * batch to the worker queue with --enqueue.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/quickcuts-worker/internal/app"
	"github.com/adverant/nexus/quickcuts-worker/internal/batch"
	"github.com/adverant/nexus/quickcuts-worker/internal/config"
	"github.com/adverant/nexus/quickcuts-worker/internal/logging"
	"github.com/adverant/nexus/quickcuts-worker/internal/processor"
	"github.com/adverant/nexus/quickcuts-worker/internal/queue"
)

var errCancelled = errors.New("cancelled")

type options struct {
	word       string
	output     string
	size       string
	wordHeight int
	partial    bool
	background string
	workers    int
	confidence int
	format     string
	enqueue    bool
}

type alignerFactory func() (processor.Aligner, error)

func main() {
	cfg, err := app.Bootstrap(os.Stderr)
	if err != nil {
		logging.NewLogger("align").Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand(cfg, func() (processor.Aligner, error) { return app.NewAligner(cfg) })
	if err := cmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCommand(cfg *config.Config, newAligner alignerFactory) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "align [flags] images...",
		Short:        "Align and center a word across images using OCR",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.enqueue {
				return enqueue(cmd.Context(), cmd.OutOrStdout(), cfg, opts, args)
			}
			aligner, err := newAligner()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg, aligner, opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.word, "word", "w", "", "target word to center")
	f.StringVarP(&opts.output, "output", "o", "", "output directory; {word} is replaced (default ./aligned_<word>)")
	f.StringVarP(&opts.size, "size", "s", cfg.DefaultOutputSize, "output size WIDTHxHEIGHT")
	f.IntVar(&opts.wordHeight, "word-height", cfg.DefaultWordHeight, "target word height in pixels")
	f.BoolVar(&opts.partial, "partial", false, "match words that start with the target")
	f.StringVar(&opts.background, "background", cfg.DefaultBackground, "white, black, dominant or transparent")
	f.IntVar(&opts.workers, "workers", cfg.AlignWorkers, "parallel workers; 1 runs sequentially")
	f.IntVar(&opts.confidence, "confidence", cfg.ConfidenceThreshold, "minimum OCR confidence (0-100)")
	f.StringVar(&opts.format, "format", "", "output extension (default: keep the source extension)")
	f.BoolVar(&opts.enqueue, "enqueue", false, "submit the batch to the worker queue instead of running it")
	_ = cmd.MarkFlagRequired("word")

	return cmd
}

// jobSpec turns flags and collected inputs into a JobSpec.
func jobSpec(opts *options, paths []string) (*batch.JobSpec, error) {
	w, h, err := processor.ParseSize(opts.size)
	if err != nil {
		return nil, err
	}
	partial := opts.partial
	confidence := opts.confidence
	return &batch.JobSpec{
		TargetWord:          opts.word,
		ImagePaths:          paths,
		OutputDir:           strings.ReplaceAll(opts.output, "{word}", opts.word),
		OutputSize:          &batch.Size{Width: w, Height: h},
		WordHeight:          opts.wordHeight,
		Partial:             &partial,
		Background:          opts.background,
		Workers:             opts.workers,
		ConfidenceThreshold: &confidence,
		OutputFormat:        opts.format,
	}, nil
}

func run(ctx context.Context, out, errOut io.Writer, cfg *config.Config, aligner processor.Aligner, opts *options, args []string) error {
	paths, err := collectImagePaths(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no valid images found")
	}
	fmt.Fprintf(out, "Found %d images\n", len(paths))

	spec, err := jobSpec(opts, paths)
	if err != nil {
		return err
	}
	defaults, err := app.Defaults(cfg, opts.workers)
	if err != nil {
		return err
	}
	outCfg, err := spec.OutputConfig(defaults)
	if err != nil {
		return err
	}

	progress := func(st batch.Status) {
		fmt.Fprintf(errOut, "\r[%d/%d] %d aligned, %d failed", st.CurrentImage, st.TotalImages,
			len(st.ProcessedImages), len(st.FailedImages))
		if st.CurrentImage == st.TotalImages {
			fmt.Fprintln(errOut)
		}
	}

	report, err := batch.NewOrchestrator(aligner).Run(ctx, paths, outCfg, spec.Mode(defaults, progress, nil))
	if err != nil {
		return err
	}

	red := color.New(color.FgRed).SprintFunc()
	for _, f := range report.Failed {
		fmt.Fprintf(out, "  %s %s: %s\n", red("✗"), f.Image, f.Reason)
	}

	if report.Cancelled {
		fmt.Fprintln(errOut)
		fmt.Fprintf(out, "%s %d aligned, %d failed, %d not processed\n",
			color.New(color.FgYellow).Sprint("Cancelled!"), report.SuccessfulCount, report.FailedCount, len(report.Skipped))
		return errCancelled
	}

	fmt.Fprintf(out, "\n%s Done! %d aligned, %d failed\n",
		color.New(color.FgGreen, color.Bold).Sprint("✓"), report.SuccessfulCount, report.FailedCount)
	fmt.Fprintf(out, "  Output: %s\n", outCfg.OutputDir)
	return nil
}

func enqueue(ctx context.Context, out io.Writer, cfg *config.Config, opts *options, args []string) error {
	paths, err := collectImagePaths(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no valid images found")
	}

	// The worker may run elsewhere, so submit absolute paths.
	for i, p := range paths {
		if paths[i], err = filepath.Abs(p); err != nil {
			return err
		}
	}
	spec, err := jobSpec(opts, paths)
	if err != nil {
		return err
	}
	if spec.OutputDir == "" {
		spec.OutputDir = processor.DefaultOutputDir(opts.word)
	}
	if spec.OutputDir, err = filepath.Abs(spec.OutputDir); err != nil {
		return err
	}

	// Catch config errors here rather than in the worker.
	defaults, err := app.Defaults(cfg, opts.workers)
	if err != nil {
		return err
	}
	if _, err := spec.OutputConfig(defaults); err != nil {
		return err
	}

	enq, err := queue.NewEnqueuer(cfg.RedisURL, cfg.QueueName, cfg.MaxRetries, cfg.Timeout())
	if err != nil {
		return err
	}
	defer enq.Close()

	info, err := enq.Enqueue(ctx, spec)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Enqueued job %s on %s (%d images)\n", info.ID, info.Queue, len(paths))
	return nil
}
