// Command turnstileproxy serves the /solve endpoint or runs a single
// retrieval from the command line.
//
// Usage:
//
//	turnstileproxy serve -l :8080
//	turnstileproxy solve <url> [--json]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/jarylc/go-turnstileproxy"
	"github.com/jarylc/go-turnstileproxy/internal/config"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var (
	// Global flags
	verbose  bool
	mode     string
	endpoint string
	token    string

	cfg turnstileproxy.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "turnstileproxy",
		Short:         "Retrieve Cloudflare Turnstile tokens with a headless browser",
		Version:       turnstileproxy.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd)
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&mode, "mode", "m", "", "Browser mode: cdp, playwright or local (or set BROWSER_MODE)")
	rootCmd.PersistentFlags().StringVarP(&endpoint, "endpoint", "e", "", "Remote browser websocket endpoint (or set BROWSER_ENDPOINT)")
	rootCmd.PersistentFlags().StringVarP(&token, "token", "K", "", "Remote browser access token (or set BROWSERLESS_TOKEN)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSolveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves the configuration: .env, then the config provider,
// then command line flags.
func loadConfig(cmd *cobra.Command) error {
	dotenvErr := godotenv.Load()

	mgr, err := config.FromEnv()
	if err != nil {
		return err
	}
	cfg, err = turnstileproxy.LoadConfig(mgr)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("mode") {
		m, err := turnstileproxy.ParseMode(mode)
		if err != nil {
			return err
		}
		cfg.Mode = m
	}
	if endpoint != "" {
		cfg.Endpoint = endpoint
	}
	if token != "" {
		cfg.Token = token
	}

	setupLogging(cfg.LogLevel)
	if dotenvErr != nil {
		log.Debug().Err(dotenvErr).Msg("no .env file loaded")
	}
	log.Debug().Str("source", mgr.Name()).Str("mode", string(cfg.Mode)).Msg("configuration loaded")
	return nil
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	if verbose {
		lvl = zerolog.DebugLevel
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// serve command
func newServeCmd() *cobra.Command {
	var (
		listen      string
		engine      string
		maxSessions int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the /solve HTTP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				cfg.ListenAddr = listen
			}
			if engine != "" {
				cfg.Engine = engine
			}
			if cmd.Flags().Changed("max-sessions") {
				cfg.MaxSessions = maxSessions
			}

			// configuration problems abort startup
			solver, err := turnstileproxy.New(cfg, turnstileproxy.WithLogger(log.Logger))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return turnstileproxy.Serve(ctx, cfg, solver, log.Logger)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (default :8080, or set LISTEN_ADDR / PORT)")
	cmd.Flags().StringVar(&engine, "engine", "", "HTTP engine: mux or fiber (or set HTTP_ENGINE)")
	cmd.Flags().IntVar(&maxSessions, "max-sessions", 0, "Maximum concurrent browser sessions, 0 for unbounded")

	return cmd
}

// solve command
func newSolveCmd() *cobra.Command {
	var (
		timeout    int
		userAgent  string
		cookies    string
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "solve <url>",
		Short: "Retrieve a Turnstile token for a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := args[0]
			if timeout > 0 {
				cfg.Timeout = time.Duration(timeout) * time.Second
			}

			parsed, err := turnstileproxy.ParseCookies(cookies)
			if err != nil {
				return err
			}

			solver, err := turnstileproxy.New(cfg, turnstileproxy.WithLogger(log.Logger))
			if err != nil {
				return err
			}

			if verbose {
				fmt.Printf("Retrieving Turnstile token for: %s\n", url)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			result := solver.Solve(ctx, turnstileproxy.Request{
				URL:       url,
				UserAgent: userAgent,
				Cookies:   parsed,
			})

			if outputJSON {
				printJSON(result)
			} else {
				printResult(result)
			}
			if result.Status != turnstileproxy.StatusSuccess {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&timeout, "timeout", "T", 0, "Token wait in seconds (default 10, or set SOLVE_TIMEOUT)")
	cmd.Flags().StringVar(&userAgent, "user-agent", "", "Override the browser user agent")
	cmd.Flags().StringVar(&cookies, "cookies", "", "Cookies to install before navigation (\"a=1; b=2\")")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output result as JSON")

	return cmd
}

func printResult(result turnstileproxy.Result) {
	switch result.Status {
	case turnstileproxy.StatusSuccess:
		fmt.Println("[+] Turnstile token retrieved!")
		fmt.Printf("    Token: %s\n", result.TokenValue())
	case turnstileproxy.StatusFailure:
		fmt.Fprintf(os.Stderr, "[-] %s\n", result.ReasonValue())
	default:
		fmt.Fprintf(os.Stderr, "[x] Error: %s\n", result.ReasonValue())
	}
	fmt.Printf("    Elapsed: %.3fs\n", result.Elapsed)
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
