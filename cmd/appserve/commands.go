package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ln64-git/dynamic-server-app-template/internal/app"
	"github.com/ln64-git/dynamic-server-app-template/internal/config"
	"github.com/ln64-git/dynamic-server-app-template/internal/demo"
	"github.com/ln64-git/dynamic-server-app-template/internal/dispatch"
	"github.com/ln64-git/dynamic-server-app-template/internal/metrics"
	"github.com/ln64-git/dynamic-server-app-template/internal/observability/logger"
	"github.com/ln64-git/dynamic-server-app-template/internal/persist"
	"github.com/ln64-git/dynamic-server-app-template/internal/probe"
	"github.com/ln64-git/dynamic-server-app-template/internal/state"
)

// cli holds what PersistentPreRunE builds for the subcommands.
type cli struct {
	configPath string
	port       int
	logLevel   string
	stateFile  string
	validate   bool

	cfg *config.Config
	rt  *app.Runtime
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "appserve",
		Short:         "Serve or drive a single application instance",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", config.DefaultPath, "YAML config file")
	pf.IntVar(&c.port, "port", 0, "instance port (env APPSERVE_PORT, default 2000)")
	pf.StringVar(&c.logLevel, "log-level", "", "debug|info|warn|error (env APPSERVE_LOG_LEVEL)")
	pf.StringVar(&c.stateFile, "state-file", "", "persist state to this file (env APPSERVE_STATE_FILE)")
	pf.BoolVar(&c.validate, "validate", true, "reject mistyped state values (env APPSERVE_VALIDATE)")

	root.AddCommand(
		c.serveCmd(),
		c.getCmd(),
		c.setCmd(),
		c.callCmd(),
		c.opsCmd(),
		c.watchCmd(),
	)
	return root
}

// setup loads config, applies changed flags and builds the runtime.
func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = c.port
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = c.logLevel
	}
	if flags.Changed("state-file") {
		cfg.State.File = c.stateFile
	}
	if flags.Changed("validate") {
		cfg.State.Validate = c.validate
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger.Init(cfg.Logger())
	log := logger.L()

	opts := []app.Option{
		app.WithLogger(log),
		app.WithValidation(cfg.State.Validate),
		app.WithHost(cfg.Server.Host),
		app.WithMaxAttempts(cfg.Server.MaxAttempts),
		app.WithProbeTimeout(cfg.Probe.Timeout),
		app.WithGrace(cfg.Server.Grace),
	}
	if cfg.State.File != "" {
		opts = append(opts, app.WithStore(persist.NewFileStore(cfg.State.File, log.Named("persist"))))
	}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if err := metrics.Register(reg); err != nil {
			return err
		}
		opts = append(opts, app.WithMetrics(reg))
	}

	inst := demo.New()
	inst.Port = cfg.Server.Port
	rt, err := app.New(inst, opts...)
	if err != nil {
		return err
	}
	if err := rt.Restore(); err != nil {
		return err
	}
	c.cfg, c.rt = cfg, rt
	return nil
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Become the authoritative instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			port, err := c.rt.Serve(c.cfg.Server.Port)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "serving on %s\n", c.rt.Address())
			logger.L().Info("serving", logger.Port(port))

			g, gctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				return c.rt.Server().Wait()
			})
			g.Go(func() error {
				select {
				case <-gctx.Done():
				case <-c.rt.Server().Done():
					// The serve loop ended on its own; Wait reports why.
					return nil
				}
				logger.L().Info("shutting down", logger.Phase(c.rt.Server().Phase().String()))
				return c.rt.Shutdown(context.Background())
			})
			return g.Wait()
		},
	}
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Print the state, or one key of it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 1 {
				key = args[0]
			}
			v, err := c.rt.Get(cmd.Context(), key)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), v)
		},
	}
}

func (c *cli) setCmd() *cobra.Command {
	var raw string
	cmd := &cobra.Command{
		Use:   "set key=value... | --json '{...}'",
		Short: "Apply a partial state",
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := buildPatch(raw, args)
			if err != nil {
				return err
			}
			snap, err := c.rt.Set(cmd.Context(), patch)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), snap)
		},
	}
	cmd.Flags().StringVar(&raw, "json", "", "patch as a JSON object")
	return cmd
}

func (c *cli) callCmd() *cobra.Command {
	var raw string
	cmd := &cobra.Command{
		Use:   "call <operation> [args...]",
		Short: "Invoke an operation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			callArgs := dispatch.ArgsFromStrings(args[1:])
			if raw != "" {
				var err error
				if callArgs, err = dispatch.ParseArgs([]byte(raw)); err != nil {
					return err
				}
			}
			out, err := c.rt.Call(cmd.Context(), args[0], callArgs)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&raw, "json", "", "arguments as a JSON array")
	return cmd
}

func (c *cli) opsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ops",
		Short: "List the published operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			for _, d := range c.rt.Operations() {
				params := strings.Join(d.Params, ", ")
				if d.Variadic && len(d.Params) > 0 {
					params = strings.Join(d.Params[:len(d.Params)-1], ", ")
					if params != "" {
						params += ", "
					}
					params += "..." + strings.TrimPrefix(d.Params[len(d.Params)-1], "[]")
				}
				fmt.Fprintf(w, "%s(%s)\n", d.Name, params)
			}
			return nil
		},
	}
}

func (c *cli) watchCmd() *cobra.Command {
	var (
		interval time.Duration
		count    int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the state and peer status as they change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive, got %s", interval)
			}
			if count < 0 {
				return fmt.Errorf("--count must not be negative, got %d", count)
			}
			return c.watch(cmd.Context(), cmd.OutOrStdout(), interval, count)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval")
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many polls (0 = until interrupted)")
	return cmd
}

func (c *cli) watch(ctx context.Context, out io.Writer, interval time.Duration, count int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The monitor callback writes from its own goroutine.
	w := &lockedWriter{w: out}

	mon := probe.NewMonitor(c.rt.Address(), probe.New(c.cfg.Probe.Timeout, logger.Named("probe")), interval)
	mon.SetLogger(logger.Named("watch"))
	mon.SetOnChange(func(prev, next probe.Status) {
		fmt.Fprintf(w, "peer %s: %s -> %s\n", mon.Address(), prev, next)
	})
	mon.Start(ctx)
	defer mon.Stop()

	var last state.Snapshot
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for polls := 0; count == 0 || polls < count; polls++ {
		snap, err := c.rt.Snapshot(ctx)
		if err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
		} else if last == nil || !state.Equal(last, snap) {
			if err := printJSON(w, snap); err != nil {
				return err
			}
			last = snap
		}
		if count != 0 && polls == count-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

// buildPatch turns --json or key=value words into a patch. Values that parse
// as JSON keep their type; anything else is a string.
func buildPatch(raw string, words []string) (state.Patch, error) {
	if raw != "" {
		var p state.Patch
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("--json: %w", err)
		}
		if p == nil {
			return nil, fmt.Errorf("--json: expected an object")
		}
		return p, nil
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("nothing to set: pass key=value pairs or --json")
	}
	p := make(state.Patch, len(words))
	for _, w := range words {
		k, v, ok := strings.Cut(w, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("bad assignment %q, want key=value", w)
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			decoded = v
		}
		p[k] = decoded
	}
	return p, nil
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func printJSON(w io.Writer, v any) error {
	if raw, ok := v.(json.RawMessage); ok {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			v = decoded
		}
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
