package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"quotegate/internal/app"
	"quotegate/internal/client"
	"quotegate/internal/gate"
	"quotegate/internal/identity"
	"quotegate/internal/localstate"
	"quotegate/internal/version"
)

// consolePresenter prints what a browser tab would show.
type consolePresenter struct {
	mu    sync.Mutex
	out   io.Writer
	shown bool
}

func (p *consolePresenter) HideContent() { p.printf("content hidden") }

func (p *consolePresenter) ShowPendingApproval() {
	p.mu.Lock()
	already := p.shown
	p.shown = true
	p.mu.Unlock()
	if !already {
		p.printf("account pending approval; contact an administrator")
	}
}

func (p *consolePresenter) RevealContent() { p.printf("content revealed") }

func (p *consolePresenter) InterstitialShown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shown
}

func (p *consolePresenter) Reload() {
	p.mu.Lock()
	p.shown = false
	p.mu.Unlock()
	p.printf("reloaded")
}

func (p *consolePresenter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s "+format+"\n", append([]any{time.Now().Format("15:04:05")}, args...)...)
}

func newWatchCmd(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [email]",
		Short: "Follow the approval gate for a page",
		Long: `Opens the page the way a browser tab does and re-runs the approval check on
the configured interval until interrupted.

With an email the command signs in; the password is read from
QUOTEGATE_PASSWORD unless --password is set. With --token it resumes an
existing browser session instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("page")
			password, _ := cmd.Flags().GetString("password")
			token, _ := cmd.Flags().GetString("token")
			once, _ := cmd.Flags().GetBool("once")
			var email string
			if len(args) == 1 {
				email = args[0]
			}
			switch {
			case token != "" && email != "":
				return fmt.Errorf("use either an email or --token")
			case token == "" && email == "":
				return fmt.Errorf("email or --token required")
			}
			if email != "" && password == "" {
				password = os.Getenv("QUOTEGATE_PASSWORD")
				if password == "" {
					return fmt.Errorf("password required (--password or QUOTEGATE_PASSWORD)")
				}
			}
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				return watch(ctx, a, cmd.OutOrStdout(), watchTarget{email: email, password: password, token: token}, path, once)
			})
		},
	}
	cmd.Flags().String("page", "dashboard.html", "page to open")
	cmd.Flags().String("password", "", "account password")
	cmd.Flags().String("token", "", "session token of an existing sign-in")
	cmd.Flags().Bool("once", false, "print the first decision and exit")
	return cmd
}

type watchTarget struct {
	email    string
	password string
	token    string
}

func watch(ctx context.Context, a *app.App, out io.Writer, target watchTarget, path string, once bool) error {
	interval := a.Config.GateRecheckInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	idc := identity.NewClient(a.Identity)
	tab := client.New(idc, a.Docs, localstate.Scope(a.Local, "cli-"+uuid.NewString()), client.Options{
		LoginPages: gate.NewLoginPages(a.Config.LoginPages),
		Interval:   interval,
	})
	defer tab.Close()

	if target.token != "" {
		if !idc.Restore(ctx, target.token) {
			return fmt.Errorf("session token is invalid or expired")
		}
	} else if res := tab.Tracker.SignInWithEmail(ctx, target.email, target.password); !res.Success {
		return fmt.Errorf("sign in: %s", res.Error)
	}
	presenter := &consolePresenter{out: out}
	g, state := tab.Open(ctx, path, presenter)
	fmt.Fprintf(out, "%s: %s\n", path, state)
	if once {
		return nil
	}
	g.Run(ctx, func(state gate.State) {
		fmt.Fprintf(out, "%s: %s\n", path, state)
	})
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "quotegatectl %s\n", version.Current())
		},
	}
}
