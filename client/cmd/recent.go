package cmd

import (
	"fmt"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mahaj/venue-support/pkg/conversation"
	"github.com/mahaj/venue-support/pkg/model"
)

func init() {
	recentCmd.Flags().IntP("limit", "n", 0, "how many customers to list (server default when 0)")
	rootCmd.AddCommand(recentCmd)
}

type recentItem struct {
	UserID   model.Identity `json:"user_id"`
	Username string         `json:"username"`
	LastTime time.Time      `json:"last_time"`
	Status   string         `json:"status"`
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List customers who wrote recently (staff only)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		defer e.close()

		s := e.sessions.Snapshot()
		if !s.Authenticated() {
			return conversation.ErrNotAuthenticated
		}
		if !s.Role.IsStaff() {
			return conversation.ErrForbiddenRole
		}

		q := url.Values{}
		if n, _ := cmd.Flags().GetInt("limit"); n > 0 {
			q.Set("limit", strconv.Itoa(n))
		}
		var resp struct {
			Items []recentItem `json:"items"`
		}
		if err := e.api.Get(cmd.Context(), "/support/recent", q, s.Token, &resp); err != nil {
			return err
		}

		if len(resp.Items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No customers yet.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCUSTOMER\tLAST MESSAGE\tSTATUS")
		for _, it := range resp.Items {
			name := it.Username
			if name == "" {
				name = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", it.UserID, name, humanize.Time(it.LastTime), it.Status)
		}
		return w.Flush()
	},
}
