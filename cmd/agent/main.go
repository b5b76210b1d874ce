// cmd/agent is the TradingAgent binary: `start` runs the OODA loop and
// control surface, the remaining subcommands are thin HTTP clients
// against a running instance's control surface, and `replay` drives one
// reasoning pass over fixture data without executing anything.
//
// Grounded on cmd/decision/main.go's flag-driven single-shot main(),
// generalized to a github.com/spf13/cobra subcommand tree (the wider
// example pack's convention for multi-mode agent binaries), and
// cmd/replay/main.go's fixture-driven dry-run shape for `replay`.
package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/oodatrading/agent/internal/agent"
	"github.com/oodatrading/agent/internal/config"
	"github.com/oodatrading/agent/internal/controlsurface"
	"github.com/oodatrading/agent/internal/domain"
	"github.com/oodatrading/agent/internal/ensemble"
	"github.com/oodatrading/agent/internal/execution"
	"github.com/oodatrading/agent/internal/freshness"
	"github.com/oodatrading/agent/internal/memory"
	"github.com/oodatrading/agent/internal/monitor"
	"github.com/oodatrading/agent/internal/observ"
	"github.com/oodatrading/agent/internal/oracle"
	"github.com/oodatrading/agent/internal/ports"
	"github.com/oodatrading/agent/internal/registry"
	"github.com/oodatrading/agent/internal/risk"
	"github.com/oodatrading/agent/internal/sizing"
	"github.com/oodatrading/agent/internal/stubs"
)

// exit codes per the agent's operational contract: 0 success (including
// a kill-switch halt, which is a normal outcome), 2 misconfiguration, 3
// unrecoverable runtime error, 130 cancelled.
const (
	exitOK             = 0
	exitMisconfigured  = 2
	exitUnrecoverable  = 3
	exitCancelled      = 130
)

type rootFlags struct {
	cfgPath          string
	addr             string
	memoryRoot       string
	monitorStateFile string
	symbols          string
}

func main() {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "agent",
		Short: "TradingAgent: OODA-loop decision agent",
	}
	root.PersistentFlags().StringVar(&flags.cfgPath, "config", "config/config.yaml", "config path")
	root.PersistentFlags().StringVar(&flags.addr, "addr", "http://localhost:8090", "control surface address (client subcommands) or listen address (start)")
	root.PersistentFlags().StringVar(&flags.memoryRoot, "memory-root", "data/memory", "MemoryEngine storage root")
	root.PersistentFlags().StringVar(&flags.monitorStateFile, "monitor-state", "data/known_positions.json", "PositionMonitor known-position state file")
	root.PersistentFlags().StringVar(&flags.symbols, "symbols", "BTC-USD", "comma-separated symbol:venue:asset_class instruments")

	root.AddCommand(
		newStartCmd(flags),
		newStatusCmd(flags),
		newPauseCmd(flags),
		newResumeCmd(flags),
		newEmergencyStopCmd(flags),
		newReplayCmd(flags),
	)

	if err := root.Execute(); err != nil {
		os.Exit(exitMisconfigured)
	}
}

func newStartCmd(flags *rootFlags) *cobra.Command {
	var listenAddr string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "run the OODA loop and control surface until signalled",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runStart(flags, listenAddr))
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", ":8090", "control surface listen address")
	return cmd
}

func runStart(flags *rootFlags, listenAddr string) int {
	cfg, err := config.Load(flags.cfgPath)
	if err != nil {
		observ.LogError("load_config_failed", err, map[string]any{"path": flags.cfgPath})
		return exitMisconfigured
	}

	a, err := buildAgent(cfg, flags, nil)
	if err != nil {
		observ.LogError("build_agent_failed", err, nil)
		return exitMisconfigured
	}

	server := controlsurface.New(a)
	httpServer := &http.Server{Addr: listenAddr, Handler: server.Router()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		observ.Log("control_surface_listen", map[string]any{"addr": listenAddr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observ.LogError("control_surface_failed", err, nil)
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	select {
	case <-ctx.Done():
		observ.Log("shutdown_signal_received", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		<-runErr
		return exitCancelled
	case err := <-runErr:
		_ = httpServer.Shutdown(context.Background())
		if err != nil && err != context.Canceled {
			observ.LogError("agent_run_failed", err, nil)
			return exitUnrecoverable
		}
		return exitOK
	}
}

func buildAgent(cfg config.Root, flags *rootFlags, dataFeed ports.DataProviderPort) (*agent.Agent, error) {
	instruments := parseInstruments(flags.symbols)

	reg := registry.New(func(key registry.Key) registry.Tier {
		if cfg.Agent.CircuitBreaker.FailureThreshold <= 0 {
			return registry.FreeTier
		}
		return registry.Tier{
			RateLimit:        rate.Limit(cfg.Agent.CircuitBreaker.RateLimitPerSec),
			Burst:            cfg.Agent.CircuitBreaker.RateBurst,
			PoolSize:         cfg.Agent.CircuitBreaker.PoolSize,
			FailureThreshold: cfg.Agent.CircuitBreaker.FailureThreshold,
			RecoveryTimeout:  time.Duration(cfg.Agent.CircuitBreaker.RecoveryTimeoutMs) * time.Millisecond,
		}
	})

	memoryRoot := flags.memoryRoot
	if cfg.Agent.IsolationMode {
		canonical, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("fingerprint config: %w", err)
		}
		sum := sha256.Sum256(canonical)
		memoryRoot = filepath.Join(memoryRoot, "isolated-"+hex.EncodeToString(sum[:]))
	}

	memEngine, err := memory.New(memory.Config{
		Root:        memoryRoot,
		EMAAlpha:    cfg.Agent.OracleEMAAlpha,
		WeightFloor: cfg.Agent.OracleWeightFloor,
	})
	if err != nil {
		return nil, fmt.Errorf("init memory engine: %w", err)
	}

	if dataFeed == nil {
		dataFeed = stubs.NewPaperQuotes()
	}
	platform := stubs.NewPaperVenue(cfg.BaseUSD)
	providers := buildProviders(cfg)
	gatekeeper := risk.NewGatekeeper()

	coordinator := execution.New(platform, []ports.ApprovalTransportPort{stubs.LogApproval{}}, reg, execution.Config{
		MaxRetries: cfg.Agent.Retry.MaxRetries,
	})

	votingStrategy := ensemble.VotingWeighted
	switch cfg.Agent.VotingStrategy {
	case "majority":
		votingStrategy = ensemble.VotingMajority
	case "stacking":
		votingStrategy = ensemble.VotingStacking
	}

	agentCfg := agent.Config{
		Instruments:       instruments,
		AnalysisFrequency: time.Duration(cfg.Agent.AnalysisFrequencySeconds) * time.Second,
		RiskLimits: domain.RiskLimits{
			MaxDrawdown:          cfg.Agent.MaxDrawdown,
			MaxVaR:               cfg.Agent.MaxVaRPct,
			MaxSinglePosition:    cfg.Agent.MaxSinglePosition,
			MaxCorrelated:        cfg.Agent.MaxCorrelated,
			CorrelationThreshold: cfg.Agent.CorrelationThreshold,
			MaxDailyTrades:       cfg.Agent.MaxDailyTrades,
			KillSwitchPct:        cfg.Agent.KillSwitchPct,
		},
		FreshnessConfig: freshness.DefaultConfig(),
		EnsembleConfig: ensemble.Config{
			BaseWeights:    cfg.Agent.ProviderWeights,
			QuorumMin:      cfg.Agent.QuorumMin,
			VotingStrategy: votingStrategy,
		},
		SizingConfig: sizing.Config{
			RiskPerTrade: cfg.Agent.RiskPerTrade,
			MinimumFloor: 10,
		},
		OracleConfig: oracle.Config{
			PerCallTimeout: 5 * time.Second,
			GlobalDeadline: 10 * time.Second,
			MaxConcurrency: 4,
		},
	}

	ag := agent.New(agentCfg, reg, providers, dataFeed, platform, gatekeeper, memEngine, coordinator, nil)

	// The monitor's OutcomeSink is the agent, not memEngine directly, so
	// LEARNING's bounded drain (agentCfg.MaxOutcomesPerLearning) is the
	// only path TradeOutcomes take into the memory engine.
	mon := monitor.New(platform, ag, monitor.Config{
		PollInterval:  time.Duration(cfg.Agent.MonitorPollIntervalSec) * time.Second,
		MaxConcurrent: cfg.Agent.MaxConcurrentTrackers,
		StateFile:     flags.monitorStateFile,
	})
	ag.SetMonitor(mon)

	return ag, nil
}

func buildProviders(cfg config.Root) []ports.DecisionProviderPort {
	if len(cfg.Agent.ProviderWeights) == 0 {
		return []ports.DecisionProviderPort{
			stubs.NewHeuristicOracle("momentum-a", 0.2),
			stubs.NewHeuristicOracle("momentum-b", -0.1),
			stubs.NewHeuristicOracle("momentum-c", 0.0),
		}
	}
	providers := make([]ports.DecisionProviderPort, 0, len(cfg.Agent.ProviderWeights))
	i := 0
	for id := range cfg.Agent.ProviderWeights {
		bias := 0.1 * float64(i%3-1)
		providers = append(providers, stubs.NewHeuristicOracle(id, bias))
		i++
	}
	return providers
}

// --- control-surface client subcommands ---

func newStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print the running agent's status snapshot",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(controlGet(flags.addr, "/status"))
		},
	}
}

func newPauseCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "hold the running agent in IDLE",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(controlPost(flags.addr, "/control/pause"))
		},
	}
}

func newResumeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "release a paused agent",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(controlPost(flags.addr, "/control/resume"))
		},
	}
}

func newEmergencyStopCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "emergency-stop",
		Short: "manually latch the kill switch",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(controlPost(flags.addr, "/control/emergency_stop"))
		},
	}
}

func controlGet(addr, path string) int {
	resp, err := http.Get(addr + path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUnrecoverable
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUnrecoverable
	}
	fmt.Println(buf.String())
	if resp.StatusCode != http.StatusOK {
		return exitUnrecoverable
	}
	return exitOK
}

func controlPost(addr, path string) int {
	resp, err := http.Post(addr+path, "application/json", nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUnrecoverable
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUnrecoverable
	}
	fmt.Println(buf.String())
	if resp.StatusCode != http.StatusOK {
		return exitUnrecoverable
	}
	return exitOK
}

// --- replay: one dry reasoning pass over fixture data, no execution ---

func newReplayCmd(flags *rootFlags) *cobra.Command {
	var fixtureDir string
	var serveAddr string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "run one REASONING pass over recorded fixtures and print the decisions, without executing them",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runReplay(flags, fixtureDir, serveAddr))
		},
	}
	cmd.Flags().StringVar(&fixtureDir, "fixtures", "fixtures", "directory holding news.json/ticks.json/halts.json/earnings_calendar.json")
	cmd.Flags().StringVar(&serveAddr, "serve", "", "if set, also serve the raw fixture event stream over SSE at this address until interrupted")
	return cmd
}

func runReplay(flags *rootFlags, fixtureDir, serveAddr string) int {
	cfg, err := config.Load(flags.cfgPath)
	if err != nil {
		observ.LogError("load_config_failed", err, map[string]any{"path": flags.cfgPath})
		return exitMisconfigured
	}

	events, err := stubs.LoadFixtureEvents(fixtureDir)
	if err != nil {
		observ.LogError("load_fixtures_failed", err, map[string]any{"dir": fixtureDir})
		return exitMisconfigured
	}
	observ.Log("replay_loaded_fixtures", map[string]any{"count": len(events)})

	if serveAddr != "" {
		stop := serveFixtureStream(events, serveAddr)
		defer stop()
	}

	dataFeed := stubs.NewPaperQuotes().WithFixtureTicks(stubs.TicksBySymbol(events))
	a, err := buildAgent(cfg, flags, dataFeed)
	if err != nil {
		observ.LogError("build_agent_failed", err, nil)
		return exitMisconfigured
	}

	ctx := context.Background()
	if err := a.Monitor().Recover(ctx); err != nil {
		observ.LogError("replay_recover_failed", err, nil)
		return exitUnrecoverable
	}

	decisions := a.DryRun(ctx)
	out, err := json.MarshalIndent(decisions, "", "  ")
	if err != nil {
		observ.LogError("replay_marshal_failed", err, nil)
		return exitUnrecoverable
	}
	fmt.Println(string(out))
	return exitOK
}

// serveFixtureStream starts a background HTTP server replaying events
// over SSE at /stream and /backfill, returning a stop func.
func serveFixtureStream(events []stubs.WireEvent, addr string) func() {
	feed := stubs.NewFixtureStreamServer(events)
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", feed.ServeHTTP)
	mux.HandleFunc("/backfill", feed.ServeBackfill)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		observ.Log("replay_fixture_stream_listen", map[string]any{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observ.LogError("replay_fixture_stream_failed", err, nil)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// parseInstruments turns "SYMBOL:venue:asset_class,..." into Instruments,
// defaulting venue to "paper" and asset_class to "crypto" when omitted.
func parseInstruments(spec string) []domain.Instrument {
	var out []domain.Instrument
	start := 0
	for i := 0; i <= len(spec); i++ {
		if i == len(spec) || spec[i] == ',' {
			if i > start {
				out = append(out, parseOneInstrument(spec[start:i]))
			}
			start = i + 1
		}
	}
	if len(out) == 0 {
		out = append(out, domain.Instrument{Symbol: "BTC-USD", AssetClass: domain.AssetCrypto, Venue: "paper"})
	}
	return out
}

func parseOneInstrument(tok string) domain.Instrument {
	symbol, venue, class := tok, "paper", string(domain.AssetCrypto)
	parts := splitColon(tok)
	if len(parts) >= 1 {
		symbol = parts[0]
	}
	if len(parts) >= 2 && parts[1] != "" {
		venue = parts[1]
	}
	if len(parts) >= 3 && parts[2] != "" {
		class = parts[2]
	}
	return domain.Instrument{Symbol: symbol, Venue: venue, AssetClass: domain.AssetClass(class)}
}

func splitColon(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ':' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}
