package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/sortpool/internal/events"
	"github.com/zjrosen/sortpool/internal/log"
	"github.com/zjrosen/sortpool/internal/pool"
	"github.com/zjrosen/sortpool/internal/protocol"
	"github.com/zjrosen/sortpool/internal/taskfile"
	"github.com/zjrosen/sortpool/internal/ui/dashboard"
	"github.com/zjrosen/sortpool/internal/ui/styles"
	"github.com/zjrosen/sortpool/internal/watcher"
)

// runOptions holds the flags of `sortpool run`.
type runOptions struct {
	file       string
	algorithms []string
	data       string
	generate   string
	size       int
	seed       uint64
	worker     int
	pivot      string
	tui        bool
	timeout    time.Duration
	watch      bool
	asJSON     bool
	full       bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a batch of sorting tasks and print the results",
	Long: `Run dispatches one task per algorithm (or every task in a task file)
to the worker pool, waits for all of them to finish, and prints a status
table with per-task metrics.

Examples:
  sortpool run -a bubbleSort -d 5,3,4,1,2
  sortpool run -a quickSort,mergeSort,heapSort --generate random --size 10000
  sortpool run -a quickSort --pivot middle -d 9,2,7 --worker 1
  sortpool run -f tasks.yaml --tui
  sortpool run -f tasks.yaml --watch`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.StringVarP(&runOpts.file, "file", "f", "", "YAML or JSON task file")
	f.StringSliceVarP(&runOpts.algorithms, "algorithm", "a", nil, "algorithm(s) to run, one task each")
	f.StringVarP(&runOpts.data, "data", "d", "", "comma separated numbers to sort")
	f.StringVar(&runOpts.generate, "generate", "", "generate input: random, sorted, reversed or few-unique")
	f.IntVar(&runOpts.size, "size", 1000, "number of generated elements")
	f.Uint64Var(&runOpts.seed, "seed", 1, "seed for generated input")
	f.IntVar(&runOpts.worker, "worker", -1, "pin a single task to this worker")
	f.StringVar(&runOpts.pivot, "pivot", "", "quickSort pivot: first, last, middle or random")
	f.BoolVar(&runOpts.tui, "tui", false, "show live progress bars")
	f.DurationVar(&runOpts.timeout, "timeout", 0, "terminate tasks still running after this long (default: run.timeout)")
	f.BoolVar(&runOpts.watch, "watch", false, "re-run the task file whenever it changes")
	f.BoolVar(&runOpts.asJSON, "json", false, "print the final snapshot as JSON")
	f.BoolVar(&runOpts.full, "results", false, "print every sorted result in full")

	runCmd.MarkFlagsMutuallyExclusive("file", "algorithm")
	runCmd.MarkFlagsMutuallyExclusive("data", "generate")
	runCmd.MarkFlagsMutuallyExclusive("tui", "json")
}

func wantsTUI(cmd *cobra.Command) bool {
	return cmd == runCmd && runOpts.tui
}

func runRun(cmd *cobra.Command, _ []string) error {
	opts := runOpts
	if !cmd.Flags().Changed("timeout") {
		opts.timeout = cfg.Run.Timeout
	}
	if opts.watch && opts.file == "" {
		return errors.New("--watch needs a task file (-f)")
	}

	tasks, err := buildTasks(opts)
	if err != nil {
		return err
	}

	provider, stopTracing, err := startTracing()
	if err != nil {
		return err
	}
	defer stopTracing()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	spawn := func() *pool.Pool { return newPool(provider.Tracer()) }
	out := cmd.OutOrStdout()
	if opts.watch {
		return watchFile(ctx, spawn, opts, tasks, out)
	}

	snap, err := runOnce(ctx, spawn, tasks, opts)
	if err != nil {
		return err
	}
	if err := report(out, snap, opts); err != nil {
		return err
	}
	if n := failed(snap); n > 0 {
		return fmt.Errorf("%d of %d task(s) did not complete", n, len(tasks))
	}
	return nil
}

func newPool(tracer trace.Tracer) *pool.Pool {
	return pool.New(pool.Config{
		Size:            cfg.Pool.EffectiveSize(),
		ProgressDivisor: cfg.Pool.ProgressDivisor,
		Tracer:          tracer,
	})
}

// buildTasks turns flags into task requests.
func buildTasks(opts runOptions) ([]pool.TaskRequest, error) {
	if opts.file != "" {
		return taskfile.Load(opts.file)
	}
	if len(opts.algorithms) == 0 {
		return nil, errors.New("nothing to run: pass -a <algorithm> or -f <task file>")
	}
	if opts.worker >= 0 && len(opts.algorithms) > 1 {
		return nil, errors.New("--worker pins a single task; pass one algorithm")
	}

	var (
		data []protocol.Element
		err  error
	)
	switch {
	case opts.generate != "":
		data, err = taskfile.Generator{Kind: opts.generate, Size: opts.size, Seed: opts.seed}.Generate()
	case opts.data != "":
		data, err = taskfile.ParseNumbers(opts.data)
	default:
		return nil, errors.New("no input: pass -d <numbers> or --generate <kind>")
	}
	if err != nil {
		return nil, err
	}

	var options protocol.Options
	if opts.pivot != "" {
		options = protocol.Options{"pivot": opts.pivot}
	}

	tasks := make([]pool.TaskRequest, len(opts.algorithms))
	for i, algo := range opts.algorithms {
		// Each task owns its input.
		tasks[i] = pool.TaskRequest{Algorithm: algo, Data: protocol.Clone(data), Options: options}
		if opts.worker >= 0 {
			tasks[i] = tasks[i].On(opts.worker)
		}
	}
	return tasks, nil
}

// runOnce runs tasks on a pool of its own and shuts it down afterwards.
// Terminated workers never come back, so every run starts at full size.
func runOnce(ctx context.Context, spawn func() *pool.Pool, tasks []pool.TaskRequest, opts runOptions) (events.Snapshot, error) {
	p := spawn()
	defer p.Shutdown()
	return runBatch(ctx, p, tasks, opts)
}

// runBatch dispatches tasks and blocks until no worker is busy.
func runBatch(ctx context.Context, p *pool.Pool, tasks []pool.TaskRequest, opts runOptions) (events.Snapshot, error) {
	ids, err := p.RunParallel(tasks)
	if err != nil {
		return events.Snapshot{}, fmt.Errorf("dispatching tasks: %w", err)
	}
	log.Info(log.CatCLI, "Dispatched batch", "runID", p.Snapshot().RunID, "tasks", len(ids))

	guardCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.timeout > 0 {
		pool.Guard(guardCtx, p, ids, opts.timeout)
	}

	if opts.tui {
		return runDashboard(ctx, p)
	}
	return p.Wait(ctx)
}

func runDashboard(ctx context.Context, p *pool.Pool) (events.Snapshot, error) {
	model := dashboard.New(ctx, dashboard.Config{
		Source:          p,
		ExitWhenSettled: true,
		Logs:            log.Subscribe(ctx),
	})
	final, err := tea.NewProgram(model, tea.WithContext(ctx)).Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return events.Snapshot{}, fmt.Errorf("running dashboard: %w", err)
	}
	if m, ok := final.(dashboard.Model); ok && !m.Snapshot().IsRunning {
		return m.Snapshot(), nil
	}
	// Quit early: stop whatever is still running so the report is final.
	for _, ws := range p.Snapshot().WorkerStatuses {
		if ws.Status == events.StatusBusy {
			_ = p.Terminate(ws.ID)
		}
	}
	return p.Snapshot(), nil
}

func watchFile(ctx context.Context, spawn func() *pool.Pool, opts runOptions, tasks []pool.TaskRequest, out io.Writer) error {
	w, err := watcher.New(watcher.Config{Path: opts.file})
	if err != nil {
		return err
	}
	changes, err := w.Start()
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	for {
		snap, err := runOnce(ctx, spawn, tasks, opts)
		switch {
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			fmt.Fprintln(out, styles.ErrorTextStyle.Render(err.Error()))
		default:
			if err := report(out, snap, opts); err != nil {
				return err
			}
		}
		fmt.Fprintln(out, styles.MutedStyle.Render("watching "+opts.file+" (ctrl+c to stop)"))

		select {
		case <-ctx.Done():
			return nil
		case <-changes:
		}

		next, err := taskfile.Load(opts.file)
		for err != nil {
			fmt.Fprintln(out, styles.ErrorTextStyle.Render(err.Error()))
			select {
			case <-ctx.Done():
				return nil
			case <-changes:
			}
			next, err = taskfile.Load(opts.file)
		}
		tasks = next
		log.Info(log.CatCLI, "Task file changed, re-running", "path", opts.file, "tasks", len(tasks))
	}
}

func failed(s events.Snapshot) int {
	n := 0
	for _, ws := range s.WorkerStatuses {
		if ws.Dispatched && (ws.Status == events.StatusError || ws.Status == events.StatusTerminated) {
			n++
		}
	}
	return n
}

func report(out io.Writer, snap events.Snapshot, opts runOptions) error {
	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	fmt.Fprintln(out, renderTable(snap, opts.full))
	return nil
}

func renderTable(snap events.Snapshot, full bool) string {
	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(styles.BorderDefaultColor)).
		Headers("WORKER", "STATUS", "ALGORITHM", "PROGRESS", "TIME", "WORK", "RESULT").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})

	for _, ws := range snap.WorkerStatuses {
		if !ws.Dispatched {
			continue
		}
		elapsed, work := "", ""
		if ws.Metrics != nil {
			elapsed, work = ws.Metrics.FormatDuration(), ws.Metrics.FormatWork()
		}
		t.Row(
			strconv.Itoa(ws.ID),
			styles.StatusBadge(ws),
			ws.Algorithm,
			strconv.Itoa(ws.Progress)+"%",
			elapsed,
			work,
			resultCell(ws, full),
		)
	}

	summary := fmt.Sprintf("run %s  overall %.1f%%", snap.RunID, snap.OverallProgress)
	return t.Render() + "\n" + styles.MutedStyle.Render(summary)
}

func resultCell(ws events.WorkerStatus, full bool) string {
	if ws.Error != "" {
		return styles.ErrorTextStyle.Render(ws.Error)
	}
	if ws.Result == nil {
		return ""
	}
	b, err := json.Marshal(ws.Result)
	if err != nil {
		return err.Error()
	}
	if full {
		return string(b)
	}
	return styles.Truncate(string(b), 40)
}
