package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"branch-orders-api/client"
	"branch-orders-api/models"
	"branch-orders-api/statemachine"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	boardEmail     string
	boardPassword  string
	boardOnce      bool
	boardTokenFile string
)

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "branch-orders", "session.json")
}

// connect builds a client from BRANCH_API_URL and BRANCH_API_KEY and makes
// sure the tablet is signed in as a branch.
func connect(ctx context.Context) (*client.APIClient, *client.SessionStore, error) {
	cfg, err := client.ConfigFromEnv()
	if err != nil {
		return nil, nil, err
	}
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.WarnLevel)

	api, err := client.New(cfg,
		client.WithTokenStore(&client.FileTokenStore{Path: boardTokenFile}),
		client.WithLogger(log),
	)
	if err != nil {
		return nil, nil, err
	}

	session := client.NewSessionStore(api)
	session.Start(ctx)
	if !session.State().SignedIn() {
		if boardEmail == "" {
			return nil, nil, fmt.Errorf("not signed in: pass --email and --password")
		}
		password := boardPassword
		if password == "" {
			password = os.Getenv("BRANCH_PASSWORD")
		}
		if err := session.SignIn(ctx, boardEmail, password); err != nil {
			return nil, nil, err
		}
	}

	st := session.State()
	if st.Err != nil {
		return nil, nil, fmt.Errorf("resolve branch: %w", st.Err)
	}
	if st.Branch == nil {
		return nil, nil, client.ErrBranchUnresolved
	}
	return api, session, nil
}

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Show the live order board of the signed-in branch",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		api, session, err := connect(ctx)
		if err != nil {
			return err
		}
		defer session.Stop()

		out := cmd.OutOrStdout()
		feed := client.NewOrderFeed(api)
		branchName := session.Branch().Name

		if boardOnce {
			if err := feed.Refresh(ctx); err != nil {
				return err
			}
			renderBoard(out, branchName, feed.Snapshot(), feed.Board())
			return nil
		}

		changes := make(chan struct{}, 1)
		unsub := feed.Subscribe(func(client.FeedSnapshot) {
			select {
			case changes <- struct{}{}:
			default:
			}
		})
		defer unsub()

		if err := feed.Start(ctx); err != nil {
			warning(out, "initial fetch failed: %v", err)
		}
		renderBoard(out, branchName, feed.Snapshot(), feed.Board())

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-changes:
				// Coalesce bursts of events into one redraw.
				time.Sleep(100 * time.Millisecond)
				renderBoard(out, branchName, feed.Snapshot(), feed.Board())
			}
		}
	},
}

func renderBoard(w io.Writer, branch string, snap client.FeedSnapshot, board client.Board) {
	cyan.Fprintf(w, "\n%s  ", branch)
	status := "live"
	if !snap.Connected {
		status = "offline"
	}
	faint.Fprintf(w, "[%s · %s]\n", status, time.Now().Format("15:04:05"))

	switch snap.State {
	case client.StateError:
		warning(w, "could not load orders: %v", snap.Err)
	case client.StateEmpty:
		faint.Fprintln(w, "no orders yet")
		return
	}

	for _, s := range models.Statuses {
		orders := board[s]
		cyan.Fprintf(w, "%s (%d)\n", s, len(orders))
		for _, o := range orders {
			fmt.Fprintf(w, "  table %-4s %8s  %d items  %s  %s\n",
				o.TableNumber, "£"+o.TotalAmount.StringFixed(2), o.ItemCount(),
				o.CreatedAt.Local().Format("15:04"), o.ID)
			for _, it := range o.Items {
				name := it.MenuItemID
				if it.MenuItem != nil {
					name = it.MenuItem.Name
				}
				line := fmt.Sprintf("      %d × %s", it.Quantity, name)
				if it.Notes != "" {
					line += " (" + it.Notes + ")"
				}
				faint.Fprintln(w, line)
			}
			if o.Notes != "" {
				faint.Fprintf(w, "      note: %s\n", o.Notes)
			}
		}
	}
}

var advanceCmd = &cobra.Command{
	Use:   "advance <order-id>",
	Short: "Move an order to its next status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		api, session, err := connect(ctx)
		if err != nil {
			return err
		}
		defer session.Stop()

		order, err := api.GetOrder(ctx, args[0])
		if err != nil {
			return err
		}
		next := statemachine.ValidTransitionsFrom(order.Status)
		if len(next) == 0 {
			return fmt.Errorf("order %s is already %s", order.ID, order.Status)
		}
		updated, err := api.UpdateOrderStatus(ctx, order.ID, next[0])
		if err != nil {
			return err
		}
		success(cmd.OutOrStdout(), "table %s: %s → %s", updated.TableNumber, order.Status, updated.Status)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{boardCmd, advanceCmd} {
		c.Flags().StringVar(&boardEmail, "email", "", "branch email to sign in with")
		c.Flags().StringVar(&boardPassword, "password", "", "branch password (or BRANCH_PASSWORD)")
		c.Flags().StringVar(&boardTokenFile, "token-file", defaultTokenFile(), "where the session is kept between runs")
	}
	boardCmd.Flags().BoolVar(&boardOnce, "once", false, "print the board once and exit")
}
