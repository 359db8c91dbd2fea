// Package cli holds the quotegatectl operator commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"quotegate/internal/app"
	"quotegate/internal/identity"
	"quotegate/internal/models"
	"quotegate/internal/users"
)

// Opener connects to the configured backends.
type Opener func(ctx context.Context) (*app.App, error)

const operatorID = "quotegatectl"

// NewRootCmd builds the command tree. Every subcommand opens the backends
// through open and closes them when done.
func NewRootCmd(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "quotegatectl",
		Short:         "Operate quotegate user approvals",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newUsersCmd(open), newAuditCmd(open), newWatchCmd(open), newVersionCmd())
	return root
}

func withApp(cmd *cobra.Command, open Opener, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newUsersCmd(open Opener) *cobra.Command {
	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "List, approve and deactivate user records",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List user records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pending, _ := cmd.Flags().GetBool("pending")
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				dir := users.NewDirectory(a.Docs)
				var recs []models.UserRecord
				var err error
				if pending {
					recs, err = dir.ListPending(ctx)
				} else {
					recs, err = dir.List(ctx)
				}
				if err != nil {
					return err
				}
				printUsers(cmd.OutOrStdout(), recs)
				return nil
			})
		},
	}
	listCmd.Flags().Bool("pending", false, "only records waiting for approval")

	approveCmd := &cobra.Command{
		Use:   "approve <uid>",
		Short: "Approve a pending user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, _ := cmd.Flags().GetString("role")
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				if err := users.NewDirectory(a.Docs).Approve(ctx, operatorID, args[0], models.Role(role)); err != nil {
					return fmt.Errorf("approve %s: %w", args[0], err)
				}
				if err := a.Identity.SetDisabled(ctx, args[0], false); err != nil && identity.Code(err) != identity.CodeUserNotFound {
					return fmt.Errorf("enable sign-in %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "approved %s as %s\n", args[0], role)
				return nil
			})
		},
	}
	approveCmd.Flags().String("role", string(models.RoleUser), "role to grant (admin, manager, user, guest)")

	deactivateCmd := &cobra.Command{
		Use:   "deactivate <uid>",
		Short: "Deactivate a user; open pages block on their next check",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			disable, _ := cmd.Flags().GetBool("disable-sign-in")
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				if err := users.NewDirectory(a.Docs).Deactivate(ctx, operatorID, args[0]); err != nil {
					return fmt.Errorf("deactivate %s: %w", args[0], err)
				}
				if disable {
					if err := a.Identity.SetDisabled(ctx, args[0], true); err != nil {
						return fmt.Errorf("disable sign-in %s: %w", args[0], err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deactivated %s and ended its sessions\n", args[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deactivated %s\n", args[0])
				return nil
			})
		},
	}
	deactivateCmd.Flags().Bool("disable-sign-in", false, "also refuse sign-in and revoke open sessions")

	roleCmd := &cobra.Command{
		Use:   "set-role <uid> <role>",
		Short: "Change a user's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				err := users.NewDirectory(a.Docs).Update(ctx, operatorID, args[0], models.Document{"role": args[1]})
				if err != nil {
					return fmt.Errorf("set role %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", args[0], args[1])
				return nil
			})
		},
	}

	usersCmd.AddCommand(listCmd, approveCmd, deactivateCmd, roleCmd)
	return usersCmd
}

func newAuditCmd(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent user-management actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				entries, err := users.NewDirectory(a.Docs).Audit(ctx, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "WHEN\tACTOR\tACTION\tTARGET\tDETAILS")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.CreatedAt.Format(time.RFC3339), e.ActorID, e.Action, e.Target, e.Metadata)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().Int("limit", 20, "number of entries")
	return cmd
}

func printUsers(w io.Writer, recs []models.UserRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UID\tEMAIL\tROLE\tSTATUS\tACTIVE\tCREATED")
	for _, r := range recs {
		created := ""
		if r.CreatedAt != nil {
			created = r.CreatedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n", r.UID, r.Email, r.Role, r.Status, r.Active(), created)
	}
	_ = tw.Flush()
}
