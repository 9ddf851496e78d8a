package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewStopCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "stop <session-id>",
		Short: "Stop and remove a backend session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(server, "")
			if err != nil {
				return err
			}
			tr := newTransport(cfg)
			defer tr.Close()

			resp, err := tr.DeleteSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Session %s: %s\n", args[0], resp.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Backend base URL (overrides config)")
	return cmd
}
