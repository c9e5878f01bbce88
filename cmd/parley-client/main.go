// ABOUTME: Entry point for parley-client, the human side of a parley conversation
// ABOUTME: Cobra command tree for creating, listing, and chatting in conversations

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	agentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	humanPrompt = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true).Render("you> ")
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failMark    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("✗")
	successMark = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Render("✓")
)

// rootOptions carries settings shared by every subcommand.
type rootOptions struct {
	configPath string
	gatewayURL string
	cfg        *Config
}

const rootLongDesc string = `parley-client talks to a parley-gateway as the human participant.

Create a conversation from a team declaration, then chat in it:
  parley-client create team.json
  parley-client chat <conversation-id> --recipient Writer

During a chat, answer a question with plain text to reply to the asking
agent, or with "Name: text" to address another agent.`

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "parley-client",
		Short:         "Human client for parley-gateway conversations",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("gateway") {
				cfg.Gateway.URL = opts.gatewayURL
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", configPath(), "Client config file")
	cmd.PersistentFlags().StringVarP(&opts.gatewayURL, "gateway", "g", defaultGatewayURL, "Gateway base URL")

	cmd.AddCommand(newChatCmd(opts))
	cmd.AddCommand(newCreateCmd(opts))
	cmd.AddCommand(newListCmd(opts))

	return cmd
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := newRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		cmd.PrintErrf("  %s %v\n", failMark, err)
		os.Exit(1)
	}
}
