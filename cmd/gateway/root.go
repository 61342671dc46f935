package main

import (
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// clientOptions are shared by the subcommands that talk to a running gateway
type clientOptions struct {
	addr    string
	token   string
	timeout time.Duration
	output  string
	noColor bool
}

func newRootCmd() *cobra.Command {
	opts := &clientOptions{}

	root := &cobra.Command{
		Use:   "gateway",
		Short: "LLM governance gateway",
		Long: `Runs the governance gateway in front of LLM providers and manages a running instance.

Every request passes policy, safety and budget checks before it reaches a
provider; responses are screened, billed and audited on the way back.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.noColor {
				color.NoColor = true
			}
			return validateOutput(opts.output)
		},
	}

	root.PersistentFlags().StringVar(&opts.addr, "addr", getEnvOrDefault("GATEWAY_ADDR", "http://localhost:8000"), "Base URL of a running gateway")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("ADMIN_TOKEN"), "Admin bearer token (env ADMIN_TOKEN)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout for admin calls")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", outputTable, "Output format: table, json or yaml")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	root.AddCommand(
		newServeCmd(),
		newStatusCmd(opts),
		newCacheCmd(opts),
		newPolicyCmd(opts),
	)
	return root
}
