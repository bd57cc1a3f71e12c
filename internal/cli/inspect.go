package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"guildkeeper/internal/config"
	"guildkeeper/internal/expiry"
	"guildkeeper/internal/scheduler"
	"guildkeeper/internal/storage"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	headerColor  = color.New(color.Bold)
	overdueColor = color.New(color.FgHiRed)
	neverColor   = color.New(color.FgHiMagenta)
)

func openStore() (*storage.Store, error) {
	cfg, err := config.Read()
	if err != nil {
		return nil, err
	}
	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func newActionsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "Inspect persisted deferred actions",
	}
	var guildID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List pending deferred actions without executing them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			actions, malformed, err := scheduler.Snapshot(cmd.Context(), store)
			if err != nil {
				return err
			}
			if guildID != "" {
				filtered := actions[:0]
				for _, action := range actions {
					if action.GuildID == guildID {
						filtered = append(filtered, action)
					}
				}
				actions = filtered
			}
			return writeActions(cmd.OutOrStdout(), opts.Format, actions, malformed, time.Now())
		},
	}
	list.Flags().StringVar(&guildID, "guild", "", "only show actions of this guild")
	cmd.AddCommand(list)
	return cmd
}

type actionView struct {
	ID       string          `json:"id"`
	Kind     string          `json:"kind"`
	GuildID  string          `json:"guild_id"`
	Deadline time.Time       `json:"deadline"`
	Overdue  bool            `json:"overdue"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

func writeActions(w io.Writer, format string, actions []scheduler.Action, malformed int, now time.Time) error {
	views := make([]actionView, 0, len(actions))
	for _, action := range actions {
		views = append(views, actionView{
			ID:       action.ID,
			Kind:     action.Kind,
			GuildID:  action.GuildID,
			Deadline: action.Deadline,
			Overdue:  !action.Deadline.After(now),
			Payload:  action.Payload,
		})
	}
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"actions": views, "malformed": malformed})
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	headerColor.Fprintln(tw, "ID\tKIND\tGUILD\tDEADLINE")
	for _, v := range views {
		deadline := v.Deadline.Format(time.RFC3339)
		if v.Overdue {
			deadline = overdueColor.Sprint(deadline + " (overdue)")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.ID, v.Kind, v.GuildID, deadline)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d pending, %d malformed\n", len(views), malformed)
	return err
}

func newGrantsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grants",
		Short: "Inspect premium grants",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List premium grants and whether they are still active",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			return listGrants(cmd.Context(), cmd.OutOrStdout(), opts.Format, expiry.NewLedger(store, zap.NewNop()), time.Now())
		},
	}
	cmd.AddCommand(list)
	return cmd
}

type grantView struct {
	UserID  string `json:"user_id"`
	Type    string `json:"type"`
	Expires string `json:"expires"`
	Status  string `json:"status"`
}

func listGrants(ctx context.Context, w io.Writer, format string, ledger *expiry.Ledger, now time.Time) error {
	entries, err := ledger.List(ctx)
	if err != nil {
		return err
	}
	views := make([]grantView, 0, len(entries))
	for _, entry := range entries {
		status := "active"
		expired, err := entry.Grant.ExpiredAt(now)
		switch {
		case err != nil:
			status = "unparsable"
		case expired:
			status = "expired"
		case entry.Grant.Expires == expiry.Never:
			status = "lifetime"
		}
		views = append(views, grantView{UserID: entry.Key, Type: entry.Grant.Type, Expires: entry.Grant.Expires, Status: status})
	}
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	headerColor.Fprintln(tw, "USER\tTYPE\tEXPIRES\tSTATUS")
	for _, v := range views {
		status := v.Status
		switch v.Status {
		case "expired", "unparsable":
			status = overdueColor.Sprint(status)
		case "lifetime":
			status = neverColor.Sprint(status)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.UserID, v.Type, v.Expires, status)
	}
	return tw.Flush()
}
