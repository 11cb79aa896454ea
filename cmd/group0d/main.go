// Command group0d runs a single node of the group-0 linearization core:
// it bootstraps or joins a raft cluster, serves the admin introspection
// API, and exposes Prometheus metrics.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/group0/pkg/adminapi"
	"github.com/cuemby/group0/pkg/command"
	"github.com/cuemby/group0/pkg/group0"
	"github.com/cuemby/group0/pkg/log"
	"github.com/cuemby/group0/pkg/metrics"
	"github.com/cuemby/group0/pkg/schema"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "group0d",
	Short:   "group0d runs one node of the group-0 linearization core",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("group0d version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file; flags below override values it sets")
	rootCmd.PersistentFlags().String("node-id", "", "Unique ID for this node")
	rootCmd.PersistentFlags().String("bind-addr", "127.0.0.1:7100", "Raft transport bind address")
	rootCmd.PersistentFlags().String("data-dir", "./data", "Directory for raft and table storage")
	rootCmd.PersistentFlags().String("admin-addr", "127.0.0.1:7101", "Admin gRPC bind address")
	rootCmd.PersistentFlags().String("metrics-addr", "127.0.0.1:7102", "Prometheus /metrics HTTP bind address")
	rootCmd.PersistentFlags().Bool("guard-enabled", true, "Run start_operation through the full guard path")
	rootCmd.PersistentFlags().Bool("leader-forwarding", true, "Treat not_a_leader as a fatal broken invariant")
	rootCmd.PersistentFlags().Duration("history-gc-interval", time.Minute, "Background history GC period, 0 disables it")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(proposeKVCmd)
	rootCmd.AddCommand(getKVCmd)
	rootCmd.AddCommand(statusCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

// configFromFlags builds a Config starting from --config (if given) and
// then overlaying any flag the caller explicitly set, so a config file can
// supply defaults a one-off flag still overrides.
func configFromFlags(cmd *cobra.Command) (group0.Config, error) {
	var cfg group0.Config

	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		loaded, err := group0.LoadConfigFile(path)
		if err != nil {
			return group0.Config{}, err
		}
		cfg = loaded
	}

	if cmd.Flags().Changed("node-id") || cfg.NodeID == "" {
		cfg.NodeID, _ = cmd.Flags().GetString("node-id")
	}
	if cmd.Flags().Changed("bind-addr") || cfg.BindAddr == "" {
		cfg.BindAddr, _ = cmd.Flags().GetString("bind-addr")
	}
	if cmd.Flags().Changed("data-dir") || cfg.DataDir == "" {
		cfg.DataDir, _ = cmd.Flags().GetString("data-dir")
	}
	if cmd.Flags().Changed("guard-enabled") || path == "" {
		cfg.GuardEnabled, _ = cmd.Flags().GetBool("guard-enabled")
	}
	if cmd.Flags().Changed("leader-forwarding") || path == "" {
		cfg.LeaderForwardingEnabled, _ = cmd.Flags().GetBool("leader-forwarding")
	}
	if cmd.Flags().Changed("history-gc-interval") || cfg.HistoryGCInterval == 0 {
		cfg.HistoryGCInterval, _ = cmd.Flags().GetDuration("history-gc-interval")
	}

	if cfg.NodeID == "" {
		return group0.Config{}, fmt.Errorf("--node-id is required (directly or via --config)")
	}
	return cfg, nil
}

// serve starts the admin gRPC server and metrics collector for coord and
// blocks until the process receives a termination signal. Both bootstrap
// and join share this so a node is always introspectable once it has
// raft running.
func serve(cmd *cobra.Command, coord *group0.Coordinator) error {
	adminAddr, _ := cmd.Flags().GetString("admin-addr")
	lis, err := net.Listen("tcp", adminAddr)
	if err != nil {
		return fmt.Errorf("group0d: binding admin address: %w", err)
	}

	grpcServer := grpc.NewServer()
	adminapi.RegisterServer(grpcServer, adminapi.NewServer(coord))

	collector := metrics.NewCollector(coord)
	collector.Start()
	defer collector.Stop()

	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: metricsAddr, Handler: metricsMux}

	go func() {
		log.WithComponent("group0d").Info().Str("addr", metricsAddr).Msg("serving metrics")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithComponent("group0d").Error().Err(err).Msg("metrics server stopped")
		}
	}()

	go func() {
		log.WithComponent("group0d").Info().Str("addr", adminAddr).Msg("serving admin api")
		if err := grpcServer.Serve(lis); err != nil {
			log.WithComponent("group0d").Error().Err(err).Msg("admin api server stopped")
		}
	}()

	waitForSignal()
	grpcServer.GracefulStop()
	_ = metricsServer.Close()
	return coord.Shutdown()
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Bootstrap a brand-new single-node cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromFlags(cmd)
		if err != nil {
			return err
		}
		coord, err := group0.New(cfg, schema.NopMerger{})
		if err != nil {
			return err
		}
		if err := coord.Bootstrap(); err != nil {
			return err
		}
		return serve(cmd, coord)
	},
}

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Start this node and join an existing cluster (the leader must AddVoter it separately)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromFlags(cmd)
		if err != nil {
			return err
		}
		coord, err := group0.New(cfg, schema.NopMerger{})
		if err != nil {
			return err
		}
		if err := coord.Join(); err != nil {
			return err
		}
		return serve(cmd, coord)
	},
}

var proposeKVCmd = &cobra.Command{
	Use:   "propose-kv [key] [value]",
	Short: "Propose an unconditional update to a key on a throwaway single-node cluster bootstrapped in --data-dir (for local testing)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromFlags(cmd)
		if err != nil {
			return err
		}
		coord, err := group0.New(cfg, schema.NopMerger{})
		if err != nil {
			return err
		}
		if err := coord.Bootstrap(); err != nil {
			return err
		}
		defer coord.Shutdown()
		waitForLeadership(coord)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err = coord.ProposeKV(ctx, command.KVQuery{
			Kind:   command.KVQueryUpdate,
			Update: &command.UpdateQuery{Key: []byte(args[0]), NewValue: []byte(args[1])},
		})
		return err
	},
}

var getKVCmd = &cobra.Command{
	Use:   "get-kv [key]",
	Short: "Read a key through the linearized select path (for local testing)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromFlags(cmd)
		if err != nil {
			return err
		}
		coord, err := group0.New(cfg, schema.NopMerger{})
		if err != nil {
			return err
		}
		if err := coord.Bootstrap(); err != nil {
			return err
		}
		defer coord.Shutdown()
		waitForLeadership(coord)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		result, err := coord.ProposeKV(ctx, command.KVQuery{
			Kind:   command.KVQuerySelect,
			Select: &command.SelectQuery{Key: []byte(args[0])},
		})
		if err != nil {
			return err
		}
		if result.Select == nil || result.Select.Value == nil {
			fmt.Println("(absent)")
			return nil
		}
		fmt.Println(string(*result.Select.Value))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print this node's admin status over the admin gRPC API",
	RunE: func(cmd *cobra.Command, args []string) error {
		adminAddr, _ := cmd.Flags().GetString("admin-addr")
		cc, err := grpc.NewClient(adminAddr,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
		)
		if err != nil {
			return fmt.Errorf("group0d: dialing admin api: %w", err)
		}
		defer cc.Close()

		client := adminapi.NewClient(cc)
		resp, err := client.ClusterStatus(context.Background(), &adminapi.ClusterStatusRequest{})
		if err != nil {
			return err
		}
		fmt.Printf("leader: %v\nraft_state: %s\npeers: %d\nlast_log_index: %d\napplied_index: %d\nhistory_length: %d\n",
			resp.IsLeader, resp.RaftState, resp.Peers, resp.LastLogIndex, resp.AppliedIndex, resp.HistoryLength)
		return nil
	},
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}

func waitForLeadership(coord *group0.Coordinator) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && !coord.IsLeader() {
		time.Sleep(20 * time.Millisecond)
	}
}
