package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cexll/testpilot/internal/assistant"
	"github.com/cexll/testpilot/internal/config"
	"github.com/cexll/testpilot/internal/metrics"
	"github.com/cexll/testpilot/internal/poller"
	"github.com/cexll/testpilot/internal/session"
	"github.com/cexll/testpilot/internal/taskstore"
	"github.com/cexll/testpilot/internal/testfinder"
	"github.com/cexll/testpilot/internal/vcs"
	"github.com/cexll/testpilot/internal/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	loadConfig         = config.Load
	openRepo           = vcs.Open
	newRemote          = newAssistantClient
	promptAPIKey       = askAPIKey
	pickIdeas          = selectIdeas
	newWebHandler      = web.NewHandler
	defaultListenServe = http.ListenAndServe
)

func newAssistantClient(cfg *config.Config) session.Remote {
	return assistant.NewClient(assistant.Config{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.ChatModel,
		MaxTokens:   cfg.ChatMaxTokens,
		Temperature: float32(cfg.ChatTemperature),
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(defaultListenServe).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// options holds the persistent flags.
type options struct {
	repoDir string
	listen  string
	verbose bool
}

// app is the state shared by the subcommands once flags are parsed.
type app struct {
	opts  *options
	cfg   *config.Config
	serve func(string, http.Handler) error
}

func newRootCmd(serve func(string, http.Handler) error) *cobra.Command {
	opts := &options{}
	a := &app{opts: opts, serve: serve}

	root := &cobra.Command{
		Use:   "testpilot",
		Short: "Propose and generate unit tests for changed code",
		Long: `testpilot inspects a git working copy, pairs modified files with their unit
tests and drives OpenAI assistants to suggest and then write new tests.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !opts.verbose {
				log.SetOutput(io.Discard)
			} else {
				log.SetOutput(cmd.ErrOrStderr())
			}
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			a.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&opts.repoDir, "repo", "C", ".", "Path inside the git working copy")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log progress to stderr")
	root.PersistentFlags().StringVar(&opts.listen, "listen", "", "Serve job status and metrics on this address while running, e.g. :8000")

	root.AddCommand(
		a.changesCmd(),
		a.diffCmd(),
		a.pairsCmd(),
		a.suggestCmd(),
		a.generateCmd(),
		a.configCmd(),
	)
	return root
}

func (a *app) repo(ctx context.Context) (*vcs.Repo, error) {
	return openRepo(ctx, a.opts.repoDir)
}

func (a *app) convention() testfinder.Convention {
	return testfinder.Convention{Dir: a.cfg.TestDir, Suffix: a.cfg.TestSuffix, Ext: a.cfg.TestExt}
}

// ensureAPIKey prompts for a missing key and persists it.
func (a *app) ensureAPIKey() error {
	if a.cfg.RequireAPIKey() == nil {
		return nil
	}
	key, err := promptAPIKey()
	if err != nil {
		return fmt.Errorf("read API key: %w", err)
	}
	if err := config.SaveAPIKey(a.cfg.CredentialsFile, key); err != nil {
		return err
	}
	a.cfg.OpenAIAPIKey = key
	return nil
}

// newSession wires the remote client, coordinator, job store and metrics for one
// suggest or generate run. When --listen is set the store is served over HTTP.
func (a *app) newSession(cmd *cobra.Command, repo *vcs.Repo, framework string) (*session.Session, error) {
	if err := a.ensureAPIKey(); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	store := taskstore.NewStore()
	remote := newRemote(a.cfg)

	progress := cmd.ErrOrStderr()
	coord := poller.New(remote,
		poller.WithBackoff(poller.Backoff{
			Initial:    a.cfg.PollInitial,
			Max:        a.cfg.PollMax,
			Multiplier: a.cfg.PollMultiplier,
		}),
		poller.WithRecorder(metrics.NewPollMetrics(reg)),
		poller.WithObserver(func(u poller.Update) {
			fmt.Fprintln(progress, styles.Muted.Render(fmt.Sprintf("  run %s: %s (check %d)", u.Job.ID, u.Status, u.Check)))
		}),
	)

	if a.opts.listen != "" {
		handler, err := newWebHandler(store, reg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize web handler: %w", err)
		}
		addr := a.opts.listen
		go func() {
			if err := a.serve(addr, handler.Router()); err != nil {
				log.Printf("Status server stopped: %v", err)
			}
		}()
		fmt.Fprintln(progress, styles.Muted.Render("Serving job status on "+addr))
	}

	return session.New(remote, repo, coord, store, session.Options{
		IdeasAssistant: a.cfg.IdeasAssistant,
		TestsAssistant: a.cfg.TestsAssistant,
		Framework:      framework,
		Generate: session.GenerateOptions{
			Workers:           a.cfg.GenerateWorkers,
			QueueSize:         a.cfg.GenerateQueueSize,
			MaxAttempts:       a.cfg.GenerateMaxAttempts,
			InitialBackoff:    a.cfg.GenerateRetry,
			BackoffMultiplier: 2,
			MaxBackoff:        a.cfg.GenerateRetryMax,
		},
	}), nil
}
