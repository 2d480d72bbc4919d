package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mahaj/venue-support/pkg/apiclient"
	"github.com/mahaj/venue-support/pkg/config"
	"github.com/mahaj/venue-support/pkg/session"
)

var (
	version = "dev"
	commit  = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "supportchat",
	Short: "Chat with venue support from the terminal",
	Long: `supportchat signs you in to the venue support desk and opens a live
chat. Customers talk to support; staff pick a customer and answer them.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Disable completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path (default is $HOME/"+config.ClientFileName+")")
}

// env is what every command works with: the config file, the API client and
// a session store that writes itself back to the config file.
type env struct {
	path     string
	cfg      config.Client
	logger   *slog.Logger
	api      *apiclient.Client
	sessions *session.Store
	stop     func()
}

func loadEnv(cmd *cobra.Command) (*env, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		p, err := config.DefaultClientPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	cfg, err := config.LoadClient(path)
	if err != nil {
		return nil, err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	api, err := apiclient.New(apiclient.Options{
		BaseURL: cfg.APIURL,
		Timeout: cfg.RequestTimeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	e := &env{path: path, cfg: cfg, logger: logger, api: api}
	e.sessions = session.NewStore(cfg.Session, logger)
	e.stop = e.sessions.Subscribe(e.persist)
	return e, nil
}

// persist writes the session back so the next run starts signed in, or
// signed out after a logout or a rejected token.
func (e *env) persist(s session.Session) {
	e.cfg.Session = s
	if err := config.SaveClient(e.cfg, e.path); err != nil {
		e.logger.Warn("could not save session", "path", e.path, "err", err)
	}
}

func (e *env) close() {
	if e.stop != nil {
		e.stop()
	}
}
