package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/docstore-client/internal/auth"
	"github.com/vyrodovalexey/docstore-client/internal/client"
	"github.com/vyrodovalexey/docstore-client/internal/config"
)

// app carries the state shared by the subcommands.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	// flag overrides
	serverURL string
	database  string
	logLevel  string
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "docstore",
		Short: "Talk to a document store, negotiating authentication on the way",
		Long: `docstore sends requests to a document store server. When the server
answers with an authentication challenge, docstore exchanges the configured
API key for a token (or uses the configured native credential) and retries
the request once.

Configuration comes from DOCSTORE_* environment variables and the optional
YAML file named by DOCSTORE_CONFIG_FILE. Flags override both.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.SetVersionTemplate(`{{printf "docstore version %s\n" .Version}}`)

	flags := root.PersistentFlags()
	flags.StringVar(&a.serverURL, "server", "", "server URL (overrides "+config.EnvServerURL+")")
	flags.StringVar(&a.database, "database", "", "database name (overrides "+config.EnvDatabase+")")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (overrides "+config.EnvLogLevel+")")

	root.AddCommand(
		newGetCmd(a),
		newPutCmd(a),
		newWatchCmd(a),
		newServeFakeCmd(a),
	)

	return root
}

// setup loads the configuration, applies flag overrides and builds the
// logger.
func (a *app) setup(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if a.serverURL != "" {
		cfg.ServerURL = a.serverURL
	}
	if a.database != "" {
		cfg.Database = a.database
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger, err := initLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	a.cfg = cfg
	a.logger = logger

	logger.Debug("configuration loaded",
		zap.String("server_url", cfg.ServerURL),
		zap.String("database", cfg.Database),
		zap.Bool("api_key", cfg.APIKey != ""),
		zap.Bool("native_credential", cfg.HasNativeCredential()),
		zap.Duration("request_timeout", cfg.RequestTimeout),
	)
	return nil
}

// credentials builds the session credential descriptor from the config.
func (a *app) credentials() auth.CredentialDescriptor {
	var native *auth.NativeCredential
	if a.cfg.HasNativeCredential() {
		native = &auth.NativeCredential{
			Domain:   a.cfg.NativeDomain,
			Username: a.cfg.NativeUsername,
			Password: a.cfg.NativePassword,
		}
	}
	return auth.NewCredentialDescriptor(a.cfg.APIKey, native)
}

// newClient creates a client session for the configured server.
func (a *app) newClient() (*client.Client, error) {
	c, err := client.New(a.cfg.ServerURL, a.credentials(),
		client.WithLogger(a.logger),
		client.WithTimeout(a.cfg.RequestTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}
	return c, nil
}
