package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewHealthCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check backend availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(server, "")
			if err != nil {
				return err
			}
			tr := newTransport(cfg)
			defer tr.Close()

			health, err := tr.Health(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Status:\t\t%s\n", health.Status)
			fmt.Printf("Version:\t%s\n", health.Version)
			fmt.Printf("Sessions:\t%d\n", health.ActiveSessions)
			if health.UptimeSeconds != nil {
				fmt.Printf("Uptime:\t\t%ds\n", *health.UptimeSeconds)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Backend base URL (overrides config)")
	return cmd
}
