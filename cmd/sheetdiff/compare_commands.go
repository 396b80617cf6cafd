package main

import (
	"fmt"
	"image"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"plan-overlay/internal/config"
	pimage "plan-overlay/internal/image"
	"plan-overlay/internal/ocr"
	"plan-overlay/internal/pipeline"
	"plan-overlay/internal/report"
	"plan-overlay/internal/vision"
)

// session bundles the orchestrator built from configuration with the
// resources it holds.
type session struct {
	cfg    *config.Config
	logger *slog.Logger
	orch   *pipeline.Orchestrator
	close  func()
}

func (c *commandContext) newSession() (*session, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.logger()
	if err != nil {
		return nil, err
	}

	orch := &pipeline.Orchestrator{
		Primary:           cfg.AlignmentParams(logger),
		FallbackEnabled:   cfg.Grid.Enabled,
		LowConfidenceWarn: cfg.Alignment.LowConfidenceWarnThreshold,
		Logger:            logger,
	}
	closeFn := func() {}

	if cfg.Grid.Enabled {
		if cfg.Vision.APIKey == "" {
			logger.Info("grid fallback unavailable: vision.api_key not set")
		} else {
			orch.Detector = vision.NewClient(cfg.VisionConfig(),
				vision.WithRetryMaxAttempts(cfg.Vision.RetryAttempts))
		}
	}

	var reader *ocr.Engine
	if cfg.Grid.Enabled && cfg.Grid.OCRConfirm {
		reader, err = ocr.NewEngine()
		if err != nil {
			return nil, fmt.Errorf("start OCR engine: %w", err)
		}
		closeFn = func() { _ = reader.Close() }
	}
	if reader != nil {
		orch.Fallback = cfg.GridParams(reader, logger)
	} else {
		orch.Fallback = cfg.GridParams(nil, logger)
	}

	return &session{cfg: cfg, logger: logger, orch: orch, close: closeFn}, nil
}

func loadPair(oldPath, newPath string) (pipeline.Input, pipeline.Input, error) {
	for _, p := range []string{oldPath, newPath} {
		if !pimage.IsSupportedFormat(p) {
			return pipeline.Input{}, pipeline.Input{}, fmt.Errorf("%s: unsupported format (want one of %v)", p, pimage.SupportedFormats())
		}
	}
	oldImg, oldRaw, err := pimage.Load(oldPath)
	if err != nil {
		return pipeline.Input{}, pipeline.Input{}, fmt.Errorf("load %s: %w", oldPath, err)
	}
	newImg, newRaw, err := pimage.Load(newPath)
	if err != nil {
		return pipeline.Input{}, pipeline.Input{}, fmt.Errorf("load %s: %w", newPath, err)
	}
	return pipeline.Input{Image: oldImg, Raw: oldRaw}, pipeline.Input{Image: newImg, Raw: newRaw}, nil
}

func writeOutputs(out io.Writer, files map[string][]byte) error {
	for _, path := range slices.Sorted(maps.Keys(files)) {
		data := files[path]
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Fprintf(out, "Wrote %s\n", path)
	}
	return nil
}

// saveReport writes the JSON audit record when path is set. The keys of
// outputs are the files that were written.
func saveReport(out io.Writer, path, mode string, args []string, outcome pipeline.Outcome, outputs map[string][]byte) error {
	if path == "" || outcome == nil {
		return nil
	}
	r := report.New(mode)
	r.SetImages(path, args[0], args[1])
	r.RecordOutcome(outcome)
	for _, p := range slices.Sorted(maps.Keys(outputs)) {
		r.AddOutput(path, p)
	}
	if err := r.Save(path); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	fmt.Fprintf(out, "Wrote %s\n", path)
	return nil
}

func printOutcome(out io.Writer, outcome pipeline.Outcome) {
	switch o := outcome.(type) {
	case pipeline.Success:
		fmt.Fprintln(out, renderStats(o.Result.Stats, o.States))
	default:
		fmt.Fprintf(out, "Alignment failed at %s (%s)\n", pipeline.Final(outcome), formatTrace(outcome.Trace()))
	}
}

func newAlignCommand(ctx *commandContext) *cobra.Command {
	var outDir string
	var reportPath string

	cmd := &cobra.Command{
		Use:   "align OLD NEW",
		Short: "Register OLD onto NEW and write both images on a shared canvas",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.newSession()
			if err != nil {
				return err
			}
			defer s.close()

			old, new, err := loadPair(args[0], args[1])
			if err != nil {
				return err
			}
			outcome, err := s.orch.Align(cmd.Context(), old, new)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printOutcome(out, outcome)
			success, ok := outcome.(pipeline.Success)
			if !ok {
				if rerr := saveReport(out, reportPath, "align", args, outcome, nil); rerr != nil {
					s.logger.Error("report not written", "error", rerr)
				}
				return outcome.Err()
			}

			// Encode one raster at a time.
			written := map[string][]byte{}
			for _, item := range []struct {
				name string
				img  *image.RGBA
			}{
				{"aligned_old.png", success.Result.Pair.Old},
				{"aligned_new.png", success.Result.Pair.New},
			} {
				data, err := pimage.EncodePNG(item.img)
				if err != nil {
					return err
				}
				path := filepath.Join(outDir, item.name)
				if err := writeOutputs(out, map[string][]byte{path: data}); err != nil {
					return err
				}
				written[path] = nil
			}
			return saveReport(out, reportPath, "align", args, outcome, written)
		},
	}
	cmd.Flags().StringVarP(&outDir, "output", "o", ".", "Output directory")
	cmd.Flags().StringVar(&reportPath, "report", "", "Write a JSON run report to this path")
	return cmd
}

// runComparison aligns, renders and writes the files chosen by outputs.
func runComparison(cmd *cobra.Command, ctx *commandContext, args []string, reportPath string,
	configure func(*pipeline.RenderOptions),
	outputs func(pipeline.RenderOptions, pipeline.Artifacts) map[string][]byte,
) error {
	s, err := ctx.newSession()
	if err != nil {
		return err
	}
	defer s.close()

	opts := pipeline.RenderOptions{Mode: pipeline.Mode(s.cfg.Render.Mode), Diff: s.cfg.DiffParams()}
	configure(&opts)

	old, new, err := loadPair(args[0], args[1])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	art, err := s.orch.Compare(cmd.Context(), old, new, opts)
	if art.Outcome != nil {
		printOutcome(out, art.Outcome)
	}
	if err != nil {
		if rerr := saveReport(out, reportPath, string(opts.Mode), args, art.Outcome, nil); rerr != nil {
			s.logger.Error("report not written", "error", rerr)
		}
		return err
	}

	files := outputs(opts, art)
	if err := writeOutputs(out, files); err != nil {
		return err
	}
	return saveReport(out, reportPath, string(opts.Mode), args, art.Outcome, files)
}

func newMergeCommand(ctx *commandContext) *cobra.Command {
	var outPath string
	var reportPath string
	var tint float64

	cmd := &cobra.Command{
		Use:   "merge OLD NEW",
		Short: "Render a tinted merge overlay (old-only ink red, new-only ink green)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runComparison(cmd, ctx, args, reportPath,
				func(opts *pipeline.RenderOptions) {
					opts.Mode = pipeline.ModeMerge
					if cmd.Flags().Changed("tint") {
						opts.Diff.TintStrength = tint
					}
				},
				func(_ pipeline.RenderOptions, art pipeline.Artifacts) map[string][]byte {
					return map[string][]byte{outPath: art.Overlay}
				})
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "overlay.png", "Output file")
	cmd.Flags().StringVar(&reportPath, "report", "", "Write a JSON run report to this path")
	cmd.Flags().Float64Var(&tint, "tint", 0, "Override render.tint_strength")
	return cmd
}

func newDiffCommand(ctx *commandContext) *cobra.Command {
	var outDir string
	var reportPath string
	var tint float64
	var skipMorph bool

	cmd := &cobra.Command{
		Use:   "diff OLD NEW",
		Short: "Classify removed, added and unchanged ink and render the diff overlay",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runComparison(cmd, ctx, args, reportPath,
				func(opts *pipeline.RenderOptions) {
					opts.Mode = pipeline.ModeDiff
					if cmd.Flags().Changed("tint") {
						opts.Diff.TintStrength = tint
					}
					if cmd.Flags().Changed("skip-morph") {
						opts.Diff.SkipMorph = skipMorph
					}
				},
				func(opts pipeline.RenderOptions, art pipeline.Artifacts) map[string][]byte {
					return outputFiles(outDir, opts.Mode, art)
				})
		},
	}
	cmd.Flags().StringVarP(&outDir, "output", "o", ".", "Output directory")
	cmd.Flags().StringVar(&reportPath, "report", "", "Write a JSON run report to this path")
	cmd.Flags().Float64Var(&tint, "tint", 0, "Override render.tint_strength")
	cmd.Flags().BoolVar(&skipMorph, "skip-morph", false, "Skip morphological noise removal")
	return cmd
}

func newCompareCommand(ctx *commandContext) *cobra.Command {
	var outDir string
	var reportPath string

	cmd := &cobra.Command{
		Use:   "compare OLD NEW",
		Short: "Align and render using the configured render.mode",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runComparison(cmd, ctx, args, reportPath,
				func(*pipeline.RenderOptions) {},
				func(opts pipeline.RenderOptions, art pipeline.Artifacts) map[string][]byte {
					return outputFiles(outDir, opts.Mode, art)
				})
		},
	}
	cmd.Flags().StringVarP(&outDir, "output", "o", ".", "Output directory")
	cmd.Flags().StringVar(&reportPath, "report", "", "Write a JSON run report to this path")
	return cmd
}

func outputFiles(dir string, mode pipeline.Mode, art pipeline.Artifacts) map[string][]byte {
	files := map[string][]byte{filepath.Join(dir, "overlay.png"): art.Overlay}
	if mode == pipeline.ModeDiff {
		files[filepath.Join(dir, "deletion.png")] = art.Deletion
		files[filepath.Join(dir, "addition.png")] = art.Addition
	}
	return files
}
