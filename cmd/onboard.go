package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dayuer/pacebot/internal/config"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Write a default pacebot configuration",
	RunE:  runOnboard,
}

var onboardForce bool

func init() {
	onboardCmd.Flags().BoolVarP(&onboardForce, "force", "f", false, "overwrite an existing config")
	rootCmd.AddCommand(onboardCmd)
}

func runOnboard(cmd *cobra.Command, args []string) error {
	path := resolvedConfigPath()
	out := cmd.OutOrStdout()

	if _, err := os.Stat(path); err == nil && !onboardForce {
		fmt.Fprintf(out, "Config already exists at %s (use --force to overwrite)\n", path)
		return nil
	}
	if err := config.Save(config.DefaultConfig(), path); err != nil {
		return fmt.Errorf("creating config: %w", err)
	}
	fmt.Fprintf(out, "Created config at %s\n", path)

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Set channel.telegram.token or channel.whatsapp.bridgeUrl")
	fmt.Fprintln(out, "  2. Set agent.apiKey, or export the provider key (e.g. ANTHROPIC_API_KEY)")
	fmt.Fprintln(out, "  3. Try it locally: pacebot chat")
	fmt.Fprintln(out, "  4. Run: pacebot gateway")
	return nil
}
