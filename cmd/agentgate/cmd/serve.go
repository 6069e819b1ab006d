package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/fl-sean03/agentgate/internal/agentdriver"
	"github.com/fl-sean03/agentgate/internal/api"
	"github.com/fl-sean03/agentgate/internal/artifacts"
	"github.com/fl-sean03/agentgate/internal/coordinator"
	"github.com/fl-sean03/agentgate/internal/core"
	"github.com/fl-sean03/agentgate/internal/gates"
	"github.com/fl-sean03/agentgate/internal/logging"
	"github.com/fl-sean03/agentgate/internal/pathpolicy"
	"github.com/fl-sean03/agentgate/internal/progress"
	"github.com/fl-sean03/agentgate/internal/queue"
	"github.com/fl-sean03/agentgate/internal/sandbox"
	"github.com/fl-sean03/agentgate/internal/vcs"
)

var (
	serveListenAddr     string
	serveDataDir        string
	serveAPIKey         string
	serveContainerImage string
	serveAgentPath      string
	serveAgentName      string
	serveGitHubRepo     string
	serveMaxConcurrent  int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agentgate API server and work-order queue",
	Long: `Start the agentgate HTTP/Stream Surface and its backing Work-Order
Queue. The server accepts work orders over the REST API, runs each through
the build -> snapshot -> verify -> feedback loop, and streams progress over
SSE and WebSocket.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveListenAddr, "listen", "localhost:8080", "address to listen on")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", ".agentgate/data", "directory for the artifact store and lease locks")
	serveCmd.Flags().StringVar(&serveAPIKey, "api-key", "", "if set, required as a Bearer token on mutating API routes")
	serveCmd.Flags().StringVar(&serveContainerImage, "container-image", "", "container image for sandboxed runs (empty uses subprocess sandboxes)")
	serveCmd.Flags().StringVar(&serveAgentPath, "agent-path", "", "path to the agent CLI binary this server drives")
	serveCmd.Flags().StringVar(&serveAgentName, "agent-name", "agent", "name reported by the configured agent driver")
	serveCmd.Flags().StringVar(&serveGitHubRepo, "github-repo", "", "owner/repo for GitHub Actions gate checks (empty disables that gate type)")
	serveCmd.Flags().IntVar(&serveMaxConcurrent, "max-concurrent-runs", core.DefaultMaxConcurrentRuns, "maximum concurrently running work orders")

	_ = viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag("data_dir", serveCmd.Flags().Lookup("data-dir"))
	_ = viper.BindPFlag("api_key", serveCmd.Flags().Lookup("api-key"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	log := logging.New(logging.Config{Level: logLevel, Format: logFormat, Output: os.Stdout})

	store, err := artifacts.NewStore(viper.GetString("data_dir"))
	if err != nil {
		return fmt.Errorf("opening artifact store: %w", err)
	}
	defer store.Close()
	leases := pathpolicy.NewLeaseManager(store.LeaseDir(), core.SystemClock{})

	var ghClient *vcs.GitHubClient
	if serveGitHubRepo != "" {
		owner, repo, ok := splitOwnerRepo(serveGitHubRepo)
		if !ok {
			return validationErr(fmt.Errorf("--github-repo must be owner/repo, got %q", serveGitHubRepo))
		}
		ghClient, err = vcs.NewGitHubClient(owner, repo)
		if err != nil {
			log.Warn("github client unavailable, github_actions gates will fail", "error", err.Error())
			ghClient = nil
		}
	}

	provisioner := coordinator.NewProvisioner(viper.GetString("data_dir")+"/workspaces", ghClient)
	sandboxes := sandbox.NewProvider(serveContainerImage, viper.GetString("data_dir"))
	if n, err := sandboxes.CleanupOrphans(cmd.Context()); err != nil {
		log.Warn("orphan sandbox cleanup failed", "error", err.Error())
	} else if n > 0 {
		log.Info("reaped orphan sandboxes from a prior process", "count", n)
	}
	var vcsClient core.VCSClient
	if ghClient != nil {
		vcsClient = ghClient
	}
	registry := gates.NewRegistry(vcsClient)

	driverCfg := agentdriver.Config{
		Name:    serveAgentName,
		Path:    serveAgentPath,
		Timeout: 10 * time.Minute,
	}
	driver := agentdriver.New(driverCfg, log)

	metrics := progress.NewMetrics()
	bus := progress.New(progress.DefaultConfig(), metrics)
	defer bus.Close()

	coord := coordinator.New(provisioner, leases, sandboxes, driver, registry, store, bus, log)

	qcfg := queue.DefaultConfig()
	if serveMaxConcurrent > 0 {
		qcfg.MaxConcurrentRuns = serveMaxConcurrent
	}
	q := queue.New(qcfg, coord, store, log)

	srv := api.New(store, q, bus, metrics, log, api.WithAPIKey(serveAPIKey))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := q.Run(gctx)
		if err != nil && gctx.Err() != nil {
			return nil
		}
		return err
	})
	group.Go(func() error {
		err := srv.ListenAndServe(gctx, serveListenAddr)
		if err != nil && gctx.Err() != nil {
			return nil
		}
		return err
	})

	log.Info("agentgate server started", "addr", serveListenAddr, "dataDir", viper.GetString("data_dir"))
	if err := group.Wait(); err != nil {
		return runFailedErr(err)
	}
	return nil
}

func splitOwnerRepo(s string) (owner, repo string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return s[:i], s[i+1:], s[:i] != "" && s[i+1:] != ""
		}
	}
	return "", "", false
}
