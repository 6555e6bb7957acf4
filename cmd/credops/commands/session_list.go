package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/credops/internal/config"
	"github.com/systmms/credops/internal/session"
)

func NewSessionListCommand(cfg *config.Config) *cobra.Command {
	var activeOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository(cfg)
			if err != nil {
				return err
			}
			ws, err := repo.Load()
			if err != nil {
				return err
			}

			sessions := ws.Sessions
			if activeOnly {
				sessions = ws.ActiveSessions()
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions configured")
				return nil
			}

			pinned := make(map[string]bool, len(ws.PinnedIDs))
			for _, id := range ws.PinnedIDs {
				pinned[id] = true
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "NAME\tTYPE\tSTATUS\tREGION\tPROFILE\n")
			_, _ = fmt.Fprintf(w, "----\t----\t------\t------\t-------\n")
			for _, s := range sessions {
				name := s.Name
				if pinned[s.ID] {
					name = "* " + name
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					name, session.TypeLabel(s.Type), s.Status, s.Region, ws.ProfileName(s))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&activeOnly, "active", false, "Only show active sessions")

	return cmd
}
