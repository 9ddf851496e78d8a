package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func NewSessionsCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions known to the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(server, "")
			if err != nil {
				return err
			}
			tr := newTransport(cfg)
			defer tr.Close()

			resp, err := tr.ListSessions(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION ID\tSTATUS\tPROFILE\tCREATED")
			for _, s := range resp.Sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.SessionID, s.Status, s.Profile, s.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Backend base URL (overrides config)")
	return cmd
}
