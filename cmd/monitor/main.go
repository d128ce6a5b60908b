package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"

	"agent_society/internal/config"
	"agent_society/internal/domain"
	"agent_society/internal/society"
	"agent_society/internal/store/sqlite"
)

type monitorFlags struct {
	cfgFile  string
	dbPath   string
	interval time.Duration
	embedded bool
	rounds   int
	delayMS  int
}

func main() {
	if err := newMonitorCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newMonitorCmd() *cobra.Command {
	var f monitorFlags
	cmd := &cobra.Command{
		Use:          "monitor",
		Short:        "Watch simulation runs recorded in a journal",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(cmd.Context(), f)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&f.cfgFile, "config", "c", "", "TOML config for the embedded run")
	flags.StringVar(&f.dbPath, "db", "data/society.db", "sqlite journal path")
	flags.DurationVar(&f.interval, "interval", time.Second, "refresh interval")
	flags.BoolVar(&f.embedded, "embedded", false, "start a simulation in this process and watch it")
	flags.IntVarP(&f.rounds, "rounds", "n", 0, "rounds for the embedded run (0 = config value)")
	flags.IntVar(&f.delayMS, "delay-ms", 500, "pause between rounds of the embedded run")
	return cmd
}

func runMonitor(parent context.Context, f monitorFlags) error {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dbPath, err := config.ExpandPath(f.dbPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}
	store, err := sqlite.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate journal: %w", err)
	}

	var embeddedRunID string
	if f.embedded {
		embeddedRunID, err = startEmbeddedRun(ctx, f, dbPath)
		if err != nil {
			return fmt.Errorf("start embedded run: %w", err)
		}
	}

	app := tview.NewApplication()
	runsTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false)
	runsTable.SetTitle("Runs (Enter inspect, F5 refresh, F10 quit)").SetBorder(true)

	messagesView := newPane("Messages")
	roundsView := newPane("Metrics")
	qView := newPane("Q-values")
	decisionsView := newPane("Decisions")

	statusView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")
	statusView.SetText(fmt.Sprintf("Journal %s | embedded=%t | F10 quit, F5 refresh", dbPath, f.embedded))

	rightTop := tview.NewFlex().
		AddItem(messagesView, 0, 3, false).
		AddItem(qView, 0, 2, false)
	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(rightTop, 0, 3, false).
		AddItem(roundsView, 6, 0, false).
		AddItem(decisionsView, 0, 2, false)
	mainLayout := tview.NewFlex().
		AddItem(runsTable, 0, 1, true).
		AddItem(right, 0, 2, false)
	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 12, true).
		AddItem(statusView, 3, 0, false)

	var selectedRunID atomic.Value
	selectedRunID.Store(embeddedRunID)
	var lastRuns atomic.Value
	lastRuns.Store([]domain.Run{})
	var detailsVersion uint64

	refreshRuns := func() {
		runs, err := store.ListRuns(ctx, 100)
		if err == nil {
			lastRuns.Store(runs)
		}
		app.QueueUpdateDraw(func() {
			if err != nil {
				runsTable.Clear()
				runsTable.SetCell(0, 0, tview.NewTableCell(fmt.Sprintf("load error: %v", err)).SetTextColor(tview.Styles.ContrastSecondaryTextColor))
				return
			}
			renderRunsTable(runsTable, runs, selectedRunID.Load().(string))
		})
	}

	refreshDetails := func(runID string) {
		if runID == "" {
			return
		}
		version := atomic.AddUint64(&detailsVersion, 1)
		go func() {
			msgs, msgErr := store.ListRunMessages(ctx, runID, 0)
			rounds, roundErr := store.ListRounds(ctx, runID)
			updates, qErr := store.ListQUpdates(ctx, runID)
			decisions, decErr := store.ListRunDecisions(ctx, runID, 0)
			if atomic.LoadUint64(&detailsVersion) != version {
				return
			}
			app.QueueUpdateDraw(func() {
				if runID != selectedRunID.Load().(string) {
					return
				}
				setPane(messagesView, msgErr, func() string { return renderMessages(msgs, 200) })
				setPane(roundsView, roundErr, func() string { return renderRounds(rounds) })
				setPane(qView, qErr, func() string { return renderQValues(updates) })
				setPane(decisionsView, decErr, func() string { return renderDecisions(decisions, 100) })
				messagesView.ScrollToEnd()
				decisionsView.ScrollToEnd()
			})
		}()
	}

	runsTable.SetSelectedFunc(func(row, _ int) {
		runs := lastRuns.Load().([]domain.Run)
		if row <= 0 || row > len(runs) {
			return
		}
		selectedRunID.Store(runs[row-1].ID)
		refreshDetails(runs[row-1].ID)
		statusView.SetText("Selected run " + runs[row-1].ID)
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF10:
			app.Stop()
			return nil
		case tcell.KeyF5:
			go func() {
				refreshRuns()
				refreshDetails(selectedRunID.Load().(string))
			}()
			statusView.SetText("Manual refresh")
			return nil
		}
		return event
	})

	go func() {
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			refreshRuns()
			runs := lastRuns.Load().([]domain.Run)
			if selectedRunID.Load().(string) == "" && len(runs) > 0 {
				selectedRunID.Store(runs[0].ID)
			}
			refreshDetails(selectedRunID.Load().(string))
			select {
			case <-ctx.Done():
				app.Stop()
				return
			case <-ticker.C:
			}
		}
	}()

	if err := app.SetRoot(root, true).EnableMouse(true).SetFocus(runsTable).Run(); err != nil {
		return fmt.Errorf("monitor failed: %w", err)
	}
	return nil
}

// startEmbeddedRun launches a simulation journaling into dbPath and returns
// its run id. The run stops with ctx.
func startEmbeddedRun(ctx context.Context, f monitorFlags, dbPath string) (string, error) {
	cfg, err := config.Load(f.cfgFile)
	if err != nil {
		return "", err
	}
	cfg.Journal.DBPath = dbPath
	cfg.Simulation.RoundDelayMS = f.delayMS
	if f.rounds > 0 {
		cfg.Simulation.Rounds = f.rounds
	}

	s, err := society.Build(ctx, cfg, log.New(io.Discard, "", 0))
	if err != nil {
		return "", err
	}
	go func() {
		defer func() {
			_ = s.Close(ctx)
		}()
		_, _ = s.Run(ctx, society.Observers{})
	}()
	return s.RunID, nil
}

func newPane(title string) *tview.TextView {
	view := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	view.SetTitle(title).SetBorder(true)
	return view
}

func setPane(view *tview.TextView, err error, render func() string) {
	if err != nil {
		view.SetText(fmt.Sprintf("error: %v", err))
		return
	}
	view.SetText(render())
}
