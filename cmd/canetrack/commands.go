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
	"time"

	"charm.land/lipgloss/v2/tree"
	"github.com/hylla/canetrack/internal/adapters/server"
	"github.com/hylla/canetrack/internal/adapters/server/common"
	"github.com/hylla/canetrack/internal/adapters/storage/demo"
	"github.com/hylla/canetrack/internal/app"
	"github.com/hylla/canetrack/internal/domain"
	"github.com/hylla/canetrack/internal/tui"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newTUICommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the terminal UI (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTUI(cmd.Context(), opts)
		},
	}
}

// runTUI runs the bubbletea program with console logging muted.
func runTUI(ctx context.Context, opts *rootOptions) error {
	rt, err := openRuntime(ctx, opts, "tui", true)
	if err != nil {
		return err
	}
	defer rt.Close()

	return rt.commandFlow(func() error {
		display := rt.cfg.Display
		keys := rt.cfg.Keys
		m := tui.NewModel(
			rt.workspace,
			tui.WithDisplayConfig(tui.DisplayConfig{
				ShowCosts: display.ShowCosts,
				ShowNotes: display.ShowNotes,
				Currency:  display.Currency,
			}),
			tui.WithKeyConfig(tui.KeyConfig{
				Advance:  keys.Advance,
				AddChild: keys.AddChild,
				AddBloc:  keys.AddBloc,
				Edit:     keys.Edit,
				Delete:   keys.Delete,
				CopyID:   keys.CopyID,
			}),
		)
		rt.logger.Info("starting tui program loop")
		if _, err := programFactory(m).Run(); err != nil {
			rt.logger.Error("tui program terminated with error", "err", err)
			return fmt.Errorf("run tui program: %w", err)
		}
		return nil
	})
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var (
		httpBind       string
		apiEndpoint    string
		mcpEndpoint    string
		origins        []string
		reloadInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API and MCP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := openRuntime(ctx, opts, "serve", false)
			if err != nil {
				return err
			}
			defer rt.Close()

			flags := cmd.Flags()
			cfg := server.Config{
				HTTPBind:       rt.cfg.Server.HTTPBind,
				APIEndpoint:    rt.cfg.Server.APIEndpoint,
				MCPEndpoint:    rt.cfg.Server.MCPEndpoint,
				ServerName:     opts.appName,
				ServerVersion:  version,
				AllowedOrigins: rt.cfg.Server.AllowedOrigins,
			}
			if flags.Changed("http") {
				cfg.HTTPBind = httpBind
			}
			if flags.Changed("api-endpoint") {
				cfg.APIEndpoint = apiEndpoint
			}
			if flags.Changed("mcp-endpoint") {
				cfg.MCPEndpoint = mcpEndpoint
			}
			if flags.Changed("origin") {
				cfg.AllowedOrigins = origins
			}
			return rt.commandFlow(func() error {
				return runServe(ctx, rt, cfg, reloadInterval)
			})
		},
	}
	cmd.Flags().StringVar(&httpBind, "http", "", "HTTP listen address (default from config)")
	cmd.Flags().StringVar(&apiEndpoint, "api-endpoint", "", "REST API base path (default from config)")
	cmd.Flags().StringVar(&mcpEndpoint, "mcp-endpoint", "", "MCP endpoint path (default from config)")
	cmd.Flags().StringSliceVar(&origins, "origin", nil, "allowed CORS origin (repeatable)")
	cmd.Flags().DurationVar(&reloadInterval, "reload-interval", 0, "reload the tree from the store on this interval (0 disables)")
	return cmd
}

// runServe serves until ctx ends. A positive reloadInterval also refreshes the
// workspace from the store so edits made by other processes show up.
func runServe(ctx context.Context, rt *runtimeEnv, cfg server.Config, reloadInterval time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	serveCtx, cancelServe := context.WithCancel(gctx)
	defer cancelServe()

	g.Go(func() error {
		defer cancelServe()
		return serveCommandRunner(serveCtx, cfg, server.Dependencies{
			Workspace: common.NewWorkspaceAdapter(rt.workspace),
			Logger:    rt.logger,
		})
	})
	if reloadInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(reloadInterval)
			defer ticker.Stop()
			for {
				select {
				case <-serveCtx.Done():
					return nil
				case <-ticker.C:
					if err := rt.workspace.Load(serveCtx); err != nil && serveCtx.Err() == nil {
						rt.logger.Warn("periodic reload failed", "err", err)
					}
				}
			}
		})
	}
	return g.Wait()
}

func newTreeCommand(opts *rootOptions) *cobra.Command {
	var includeRetired bool
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print blocs with progress and cost totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd.Context(), opts, "tree", false)
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.commandFlow(func() error {
				return writeForest(opts.stdout, rt.workspace.Blocs(), rt.cfg.Display.Currency, includeRetired)
			})
		},
	}
	cmd.Flags().BoolVar(&includeRetired, "all", false, "include retired blocs")
	return cmd
}

// writeForest renders blocs as an indented tree.
func writeForest(out io.Writer, blocs []*domain.Bloc, currency string, includeRetired bool) error {
	shown := 0
	for _, b := range blocs {
		if b.IsRetired() && !includeRetired {
			continue
		}
		shown++
		t := tree.Root(blocLine(*b, currency))
		for _, op := range b.Operations {
			opTree := tree.Root(operationLine(*op))
			for _, wp := range op.WorkPackages {
				opTree.Child(workPackageLine(*wp))
			}
			t.Child(opTree)
		}
		if _, err := fmt.Fprintln(out, t.String()); err != nil {
			return err
		}
	}
	if shown == 0 {
		_, err := fmt.Fprintln(out, "no blocs")
		return err
	}
	return nil
}

func blocLine(b domain.Bloc, currency string) string {
	totals := b.Totals()
	line := fmt.Sprintf("%s  %s ha  %s  %d%%  est %s %s  act %s %s",
		b.Name,
		formatArea(b.AreaHectares),
		b.CycleLabel(),
		b.Progress,
		currency, totals.Estimated().StringFixed(2),
		currency, totals.Actual().StringFixed(2),
	)
	if b.IsRetired() {
		line += "  (retired)"
	}
	return line
}

func operationLine(op domain.Operation) string {
	return fmt.Sprintf("%s [%s]  %d%%  %s", op.ProductName, op.Method, op.Progress, op.Status.Label())
}

func workPackageLine(wp domain.WorkPackage) string {
	date := wp.Date.String()
	if date == "" {
		date = "-"
	}
	glyph := "[ ]"
	switch wp.EffectiveStatus() {
	case domain.StatusComplete:
		glyph = "[x]"
	case domain.StatusInProgress:
		glyph = "[~]"
	}
	return fmt.Sprintf("%s %s  %s ha", glyph, date, formatArea(wp.Area))
}

func formatArea(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func newSeedCommand(opts *rootOptions) *cobra.Command {
	var (
		seed  uint64
		blocs int
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load generated demo blocs into the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd.Context(), opts, "seed", false)
			if err != nil {
				return err
			}
			defer rt.Close()

			genCfg := demo.GenerateConfig{Seed: rt.cfg.Demo.Seed, Blocs: rt.cfg.Demo.Blocs, Now: time.Now()}
			if cmd.Flags().Changed("seed") {
				genCfg.Seed = seed
			}
			if cmd.Flags().Changed("blocs") {
				if blocs < 1 {
					return fmt.Errorf("--blocs must be at least 1: %d", blocs)
				}
				genCfg.Blocs = blocs
			}
			return rt.commandFlow(func() error {
				res, err := demo.Seed(cmd.Context(), rt.store, genCfg, rt.logger)
				if err != nil {
					return err
				}
				return writeImportResult(opts.stdout, res)
			})
		},
	}
	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed (default from config)")
	cmd.Flags().IntVar(&blocs, "blocs", 0, "number of blocs to generate (default from config)")
	return cmd
}

func newExportCommand(opts *rootOptions) *cobra.Command {
	var (
		outPath        string
		format         string
		includeRetired bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a snapshot of every bloc",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snapFormat, err := snapshotFormatFor(format, outPath)
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), opts, "export", false)
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.commandFlow(func() error {
				return runExport(rt.workspace, outPath, snapFormat, includeRetired, opts.stdout)
			})
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "-", "output file path ('-' for stdout)")
	cmd.Flags().StringVar(&format, "format", "", "json or yaml (default from --out extension, else json)")
	cmd.Flags().BoolVar(&includeRetired, "include-retired", true, "include retired blocs")
	return cmd
}

// runExport encodes the workspace snapshot to outPath or stdout.
func runExport(ws *app.Workspace, outPath string, format app.SnapshotFormat, includeRetired bool, stdout io.Writer) error {
	snap := ws.ExportSnapshot(includeRetired)
	if outPath == "-" {
		return app.EncodeSnapshot(stdout, snap, format)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create export output dir: %w", err)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if err := app.EncodeSnapshot(f, snap, format); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close export file: %w", err)
	}
	return nil
}

func newImportCommand(opts *rootOptions) *cobra.Command {
	var (
		inPath string
		format string
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create blocs from a snapshot, skipping ones that exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(inPath) == "" {
				return errors.New("--in is required")
			}
			snapFormat, err := snapshotFormatFor(format, inPath)
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), opts, "import", false)
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.commandFlow(func() error {
				f, err := os.Open(inPath)
				if err != nil {
					return fmt.Errorf("open import file: %w", err)
				}
				defer f.Close()
				snap, err := app.DecodeSnapshot(f, snapFormat)
				if err != nil {
					return err
				}
				res, err := rt.workspace.ImportSnapshot(cmd.Context(), snap)
				if err != nil {
					return fmt.Errorf("import snapshot: %w", err)
				}
				return writeImportResult(opts.stdout, res)
			})
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "input snapshot file")
	cmd.Flags().StringVar(&format, "format", "", "json or yaml (default from --in extension, else json)")
	return cmd
}

// snapshotFormatFor prefers an explicit format, then the file extension.
func snapshotFormatFor(explicit, path string) (app.SnapshotFormat, error) {
	if strings.TrimSpace(explicit) != "" {
		return app.ParseSnapshotFormat(explicit)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return app.SnapshotFormatYAML, nil
	default:
		return app.SnapshotFormatJSON, nil
	}
}

func writeImportResult(out io.Writer, res app.ImportResult) error {
	_, err := fmt.Fprintf(out, "blocs created: %d\nblocs skipped: %d\noperations created: %d\nwork packages created: %d\n",
		res.BlocsCreated, res.BlocsSkipped, res.OperationsCreated, res.WorkPackagesCreated)
	return err
}

func newPathsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config and data paths",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			paths, configPath, cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			mode, storePath := storeTarget(cfg)
			out := opts.stdout
			_, _ = fmt.Fprintf(out, "app: %s\n", opts.appName)
			_, _ = fmt.Fprintf(out, "dev_mode: %t\n", opts.devMode)
			_, _ = fmt.Fprintf(out, "config: %s\n", configPath)
			_, _ = fmt.Fprintf(out, "data_dir: %s\n", paths.DataDir)
			_, _ = fmt.Fprintf(out, "db: %s\n", cfg.Database.Path)
			_, _ = fmt.Fprintf(out, "store: %s %s\n", mode, storePath)
			return nil
		},
	}
}

func newChangesCommand(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "changes",
		Short: "List recent change events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd.Context(), opts, "changes", false)
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.commandFlow(func() error {
				events, err := rt.workspace.ListChangeEvents(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(events) == 0 {
					_, err := fmt.Fprintln(opts.stdout, "no changes")
					return err
				}
				for _, ev := range events {
					if _, err := fmt.Fprintf(opts.stdout, "%s  %-6s %-13s %s\n",
						ev.OccurredAt.UTC().Format(time.RFC3339), ev.Operation, ev.EntityKind, ev.EntityID); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum events to list")
	return cmd
}
