package commands

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bryanwahyu/threat-modeling-mate/internal/config"
	"github.com/bryanwahyu/threat-modeling-mate/internal/domain/threatmodel"
	"github.com/bryanwahyu/threat-modeling-mate/internal/infra/ai/openai"
)

// InvokerFactory builds the model client from the loaded configuration.
type InvokerFactory func(cfg *config.Config) threatmodel.Invoker

// App is the tmm command tree plus the collaborators it needs.
type App struct {
	root       *cobra.Command
	newInvoker InvokerFactory

	configPath string
	verbose    bool
}

// Option customises an App, mostly for tests.
type Option func(*App)

// WithInvoker replaces the OpenAI client.
func WithInvoker(f InvokerFactory) Option {
	return func(a *App) { a.newInvoker = f }
}

// New builds the tmm command tree.
func New(opts ...Option) *App {
	a := &App{newInvoker: defaultInvoker}
	for _, o := range opts {
		o(a)
	}

	defaultConfig := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		defaultConfig = v
	}

	a.root = &cobra.Command{
		Use:           "tmm",
		Short:         "STRIDE threat modeling for infrastructure-as-code",
		Long:          "tmm asks a language model for a STRIDE threat model of a CloudFormation, Terraform or OpenAPI document and summarises the result.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	a.root.PersistentFlags().StringVar(&a.configPath, "config", defaultConfig, "path to the configuration file")
	a.root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	a.root.AddCommand(a.analyzeCmd(), a.categoriesCmd())
	return a
}

// ExecuteContext runs the command tree with the given arguments.
func (a *App) ExecuteContext(ctx context.Context, args ...string) error {
	a.root.SetArgs(args)
	return a.root.ExecuteContext(ctx)
}

// SetIO redirects stdin, stdout and stderr of every command.
func (a *App) SetIO(in io.Reader, out, errOut io.Writer) {
	a.root.SetIn(in)
	a.root.SetOut(out)
	a.root.SetErr(errOut)
}

func (a *App) loadConfig() (*config.Config, error) {
	return config.Load(a.configPath)
}

func (a *App) logger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	level := cfg.SlogLevel()
	if a.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func defaultInvoker(cfg *config.Config) threatmodel.Invoker {
	return openai.NewClient(openai.Options{
		Provider:    cfg.Model.Provider,
		APIKey:      cfg.Model.APIKey,
		BaseURL:     cfg.Model.BaseURL,
		Model:       cfg.Model.ID,
		MaxTokens:   cfg.Model.MaxTokens,
		Temperature: cfg.Model.Temperature,
		Timeout:     cfg.Model.Timeout,
	})
}
