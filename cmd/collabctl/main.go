package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"collabsync/internal/app/discovery"
	"collabsync/internal/app/presence"
	"collabsync/internal/app/session"
	"collabsync/internal/app/transport"
	"collabsync/internal/app/user"
	"collabsync/internal/pkg/auth/jwt"
	"collabsync/internal/pkg/logx"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "collabctl",
		Short:         "Command line participant for collabsync sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := zerolog.WarnLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			logx.InitWriterLogger(cmd.ErrOrStderr(), level)
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging on stderr")

	root.AddCommand(newJoinCmd())
	root.AddCommand(newDiscoverCmd())
	root.AddCommand(newTextCmd())
	return root
}

func newDiscoverCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List sync servers advertised on the local network",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			services, err := discovery.Browse(ctx)
			if err != nil {
				return err
			}
			if len(services) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no servers found")
				return nil
			}
			for _, s := range services {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tnode=%s\n", s.Instance, s.Endpoint(), s.NodeID)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", discovery.DefaultBrowseTimeout, "how long to listen for answers")
	return cmd
}

type joinFlags struct {
	endpoint  string
	sessionID string
	userID    string
	name      string
	role      string
	token     string
	discover  bool
}

func newJoinCmd() *cobra.Command {
	var f joinFlags

	cmd := &cobra.Command{
		Use:   "join --session <id> --user <id>",
		Short: "Join a session and drive it from stdin",
		Long: "Join a session and print roster, presence, lock and edit events.\n" +
			"Commands read from stdin: " + strings.Join(commandHelp, ", "),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runJoin(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.endpoint, "endpoint", "ws://localhost:8080/ws", "WebSocket endpoint of the server")
	cmd.Flags().StringVar(&f.sessionID, "session", "", "session id")
	cmd.Flags().StringVar(&f.userID, "user", "", "user id")
	cmd.Flags().StringVar(&f.name, "name", "", "display name (defaults to the user id)")
	cmd.Flags().StringVar(&f.role, "role", string(user.RoleEditor), "permission preset: owner|editor|viewer")
	cmd.Flags().StringVar(&f.token, "token", "", "session access token; overrides --session, --user and --role")
	cmd.Flags().BoolVar(&f.discover, "discover", false, "use the first server found over mDNS instead of --endpoint")
	return cmd
}

func runJoin(cmd *cobra.Command, f joinFlags) error {
	identity, sessionID, err := joinIdentity(f)
	if err != nil {
		return err
	}

	endpoint := f.endpoint
	if f.discover {
		ctx, cancel := context.WithTimeout(cmd.Context(), discovery.DefaultBrowseTimeout)
		services, err := discovery.Browse(ctx)
		cancel()
		if err != nil {
			return err
		}
		if len(services) == 0 {
			return fmt.Errorf("no collabsync server found on the local network")
		}
		endpoint = services[0].Endpoint()
	}
	if endpoint, err = withName(endpoint, identity.Name); err != nil {
		return err
	}

	opts := transport.Options{}
	if f.token != "" {
		opts.Header = http.Header{"Authorization": {"Bearer " + f.token}}
	}
	tr := transport.NewClient(sessionID, identity.ID, opts)

	s := session.New(session.Config{SessionID: sessionID, Identity: identity}, tr)
	out := cmd.OutOrStdout()
	unsubscribe := s.Subscribe(printer(out))
	defer unsubscribe()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Connect(ctx, endpoint); err != nil {
		return err
	}
	defer s.Disconnect()

	_, _ = fmt.Fprintf(out, "joined %s as %s via %s\n", sessionID, identity.ID, endpoint)

	lines := make(chan string)
	go scanLines(cmd.InOrStdin(), lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := execute(s, line)
			if err != nil {
				_, _ = fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// joinIdentity resolves the local participant from a token or from the flags. The token is
// decoded without verification; the server is the one that checks it.
func joinIdentity(f joinFlags) (user.Identity, string, error) {
	if f.token != "" {
		payload, err := jwt.DecodeUnverified(f.token)
		if err != nil {
			return user.Identity{}, "", fmt.Errorf("read token: %w", err)
		}
		return payload.Identity(), payload.SessionID, nil
	}

	if f.sessionID == "" || f.userID == "" {
		return user.Identity{}, "", fmt.Errorf("--session and --user are required without --token")
	}
	perms, err := user.PermissionsFor(user.Role(f.role))
	if err != nil {
		return user.Identity{}, "", err
	}
	name := f.name
	if name == "" {
		name = f.userID
	}
	return user.Identity{ID: f.userID, Name: name, Permissions: perms}, f.sessionID, nil
}

func withName(endpoint, name string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	q := u.Query()
	q.Set("name", name)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func printer(w io.Writer) session.Observer {
	return session.ObserverFuncs{
		OnStatus: func(s session.Status) {
			_, _ = fmt.Fprintf(w, "status: %s\n", s)
		},
		OnRoster: func(users []user.User) {
			names := make([]string, 0, len(users))
			for _, u := range users {
				names = append(names, u.Name)
			}
			_, _ = fmt.Fprintf(w, "roster: %s\n", strings.Join(names, ", "))
		},
		OnPresence: func(records map[string]presence.Record) {
			for id, r := range records {
				if r.Cursor != nil {
					_, _ = fmt.Fprintf(w, "cursor %s: %.0f,%.0f\n", id, r.Cursor.X, r.Cursor.Y)
				}
			}
		},
		OnLocks: func(locks map[string]string) {
			_, _ = fmt.Fprintf(w, "locks: %v\n", locks)
		},
		OnComponent: func(u session.ComponentUpdate) {
			_, _ = fmt.Fprintf(w, "update %s by %s: %v\n", u.ObjectID, u.UserID, u.Data)
			if u.Conflict != nil {
				_, _ = fmt.Fprintf(w, "conflict on %s resolved by %s\n", u.ObjectID, u.Conflict.Strategy)
			}
		},
		OnError: func(err error) {
			_, _ = fmt.Fprintf(w, "error: %v\n", err)
		},
	}
}
