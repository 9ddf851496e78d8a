package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewStatusCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show backend status for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(server, "")
			if err != nil {
				return err
			}
			tr := newTransport(cfg)
			defer tr.Close()

			status, err := tr.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Session:\t%s\n", status.SessionID)
			fmt.Printf("Status:\t\t%s\n", status.Status)
			fmt.Printf("Profile:\t%s\n", status.Profile)
			fmt.Printf("Messages:\t%d\n", status.MessageCount)
			if status.TokenUsage != nil {
				fmt.Printf("Tokens:\t\t%d in / %d out\n", status.TokenUsage.InputTokens, status.TokenUsage.OutputTokens)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Backend base URL (overrides config)")
	return cmd
}
