package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"matrice/internal/app"
	"matrice/internal/domain"
	"matrice/internal/domain/jsoncfg"
	"matrice/internal/queue"
	"matrice/internal/session"
)

type generateOptions struct {
	configFile  string
	preset      string
	prompt      string
	negative    string
	model       string
	steps       int
	cfgScale    float64
	seed        string
	batch       int
	performance string
	loras       []string
	timeout     time.Duration
}

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var opts generateOptions
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Submit a generation and follow it until every image finishes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve(cmd, ctx)
			if err != nil {
				return err
			}
			return runGenerate(cmd, ctx, cfg, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.configFile, "config", "", "YAML or JSON generation config file")
	flags.StringVar(&opts.preset, "preset", "", "Start from a saved preset")
	flags.StringVarP(&opts.prompt, "prompt", "p", "", "Positive prompt")
	flags.StringVar(&opts.negative, "negative", "", "Negative prompt")
	flags.StringVarP(&opts.model, "model", "m", "", "Checkpoint or diffusion model name")
	flags.IntVar(&opts.steps, "steps", 0, "Sampling steps")
	flags.Float64Var(&opts.cfgScale, "cfg", 0, "CFG scale")
	flags.StringVar(&opts.seed, "seed", "", "Fixed seed; empty picks a random one")
	flags.IntVarP(&opts.batch, "batch", "n", 0, "Number of images")
	flags.StringVar(&opts.performance, "performance", "", "Performance preset (Lightning, Speed, Quality, Flux Lightning, Flux Speed)")
	flags.StringArrayVar(&opts.loras, "lora", nil, "LoRA as name[:strength]; repeatable")
	flags.DurationVar(&opts.timeout, "timeout", 15*time.Minute, "Give up following after this long")
	return cmd
}

// resolve layers preset, config file and flags, in that order.
func (o generateOptions) resolve(cmd *cobra.Command, ctx *commandContext) (jsoncfg.GenerationConfig, error) {
	cfg := jsoncfg.Default()
	if o.preset != "" {
		appCfg, err := ctx.ensureConfig()
		if err != nil {
			return cfg, err
		}
		store, closeFn, err := app.OpenPresets(cmd.Context(), appCfg, ctx.logger())
		if err != nil {
			return cfg, err
		}
		p, err := store.Load(cmd.Context(), o.preset)
		closeFn()
		if err != nil {
			return cfg, err
		}
		cfg = p.Apply()
	}
	if o.configFile != "" {
		fileCfg, err := jsoncfg.LoadFileOver(cfg, o.configFile)
		if err != nil {
			return cfg, err
		}
		cfg = fileCfg
	}

	flags := cmd.Flags()
	if flags.Changed("performance") {
		if err := cfg.ApplyPerformance(o.performance); err != nil {
			return cfg, err
		}
	}
	if flags.Changed("prompt") {
		cfg.Prompt = o.prompt
	}
	if flags.Changed("negative") {
		cfg.NegativePrompt = o.negative
	}
	if flags.Changed("model") {
		cfg.Model = o.model
	}
	if flags.Changed("steps") {
		cfg.Steps = o.steps
	}
	if flags.Changed("cfg") {
		cfg.CFG = o.cfgScale
	}
	if flags.Changed("batch") {
		cfg.BatchSize = o.batch
	}
	for _, spec := range o.loras {
		name, strength, _ := strings.Cut(spec, ":")
		if err := cfg.UseLora(name, strength); err != nil {
			return cfg, fmt.Errorf("--lora %q: %w", spec, err)
		}
	}
	if o.seed != "" {
		if _, err := strconv.ParseInt(o.seed, 10, 64); err != nil {
			return cfg, fmt.Errorf("--seed must be an integer, got %q", o.seed)
		}
	}
	return cfg, nil
}

func runGenerate(cmd *cobra.Command, ctx *commandContext, cfg jsoncfg.GenerationConfig, opts generateOptions) error {
	appCfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	a, err := app.Build(runCtx, appCfg, ctx.logger(), app.Options{History: true})
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	printer := newProgressPrinter(out, ctx.colorize(out))
	a.Queue.Observe(printer)

	if err := a.Start(runCtx); err != nil {
		return err
	}
	jobs, err := a.Session.Submit(runCtx, cfg, session.SubmitOptions{Seed: opts.seed})
	if err != nil {
		return err
	}
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}

	final, err := printer.wait(runCtx, a.Queue, ids)
	fmt.Fprintln(out, renderTable(jobHeaders, jobRows(final, ctx.colorize(out)), jobAligns))
	if err != nil {
		return err
	}
	failed := 0
	for _, j := range final {
		if j.Status == domain.JobStatusError {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, len(final))
	}
	return nil
}

// progressPrinter writes one line whenever a job's status or step changes.
type progressPrinter struct {
	mu       sync.Mutex
	out      io.Writer
	colorize bool
	last     map[string]string
	changed  chan struct{}
}

func newProgressPrinter(out io.Writer, colorize bool) *progressPrinter {
	return &progressPrinter{
		out:      out,
		colorize: colorize,
		last:     make(map[string]string),
		changed:  make(chan struct{}, 1),
	}
}

func (p *progressPrinter) QueueChanged(c queue.Change) {
	if c.Kind == queue.ChangeRemoved {
		return
	}
	line := progressLine(c.Job, p.colorize)
	p.mu.Lock()
	if p.last[c.Job.ID] != line {
		p.last[c.Job.ID] = line
		fmt.Fprintln(p.out, line)
	}
	p.mu.Unlock()
	select {
	case p.changed <- struct{}{}:
	default:
	}
}

func progressLine(j domain.Job, colorize bool) string {
	status := statusLabel(j.Status, colorize)
	switch j.Status {
	case domain.JobStatusGenerating:
		return fmt.Sprintf("%s  %s  step %d/%d  %3d%%", shortID(j.ID), status, j.CurrentStep, j.TotalSteps, j.Progress)
	case domain.JobStatusDownloading:
		return fmt.Sprintf("%s  %s  %s %s %3d%%", shortID(j.ID), status, j.DownloadFilename, j.DownloadSizeLabel, j.DownloadProgress)
	case domain.JobStatusComplete:
		return fmt.Sprintf("%s  %s  %s", shortID(j.ID), status, j.URL)
	case domain.JobStatusError:
		return fmt.Sprintf("%s  %s  %s", shortID(j.ID), status, j.ErrorMessage)
	default:
		return fmt.Sprintf("%s  %s", shortID(j.ID), status)
	}
}

// wait blocks until every id is terminal or gone, or ctx ends.
func (p *progressPrinter) wait(ctx context.Context, q *queue.Queue, ids []string) ([]domain.Job, error) {
	for {
		jobs, done := snapshot(q, ids)
		if done {
			return jobs, nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return jobs, fmt.Errorf("gave up waiting for %d jobs: %w", len(ids), ctx.Err())
			}
			return jobs, ctx.Err()
		case <-p.changed:
		}
	}
}

func snapshot(q *queue.Queue, ids []string) ([]domain.Job, bool) {
	jobs := make([]domain.Job, 0, len(ids))
	done := true
	for _, id := range ids {
		j, ok := q.Get(id)
		if !ok {
			continue
		}
		jobs = append(jobs, j)
		if !j.Status.IsTerminal() {
			done = false
		}
	}
	return jobs, done
}
