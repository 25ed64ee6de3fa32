// serve.go implements the "sessionbus serve" command running the hub in the
// foreground.
package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/agentflow-dev/sessionbus/internal/buslog"
	"github.com/agentflow-dev/sessionbus/internal/config"
	"github.com/agentflow-dev/sessionbus/internal/desktopnotify"
	"github.com/agentflow-dev/sessionbus/internal/hub"
	"github.com/agentflow-dev/sessionbus/internal/runtime"
	"github.com/agentflow-dev/sessionbus/internal/server"
	"github.com/agentflow-dev/sessionbus/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hub server in the foreground",
	Long: `Start the hub HTTP server and block until interrupted. The listen
address comes from config.yaml in the runtime directory; port 0 picks a
free port. The bound address is recorded in runtime.json so clients can
discover it.`,
	RunE: runServe,
}

var (
	serveHostFlag string
	servePortFlag int
)

func init() {
	serveCmd.Flags().StringVar(&serveHostFlag, "host", "", "Listen host (overrides config)")
	serveCmd.Flags().IntVar(&servePortFlag, "port", -1, "Listen port, 0 picks a free one (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	dir, err := runtime.Dir()
	if err != nil {
		return err
	}
	cfg := config.LoadOrDefault(dir)
	if serveHostFlag != "" {
		cfg.Server.Host = serveHostFlag
	}
	if servePortFlag >= 0 {
		cfg.Server.Port = servePortFlag
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = runtime.DatabasePath(dir)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	h := hub.New(st)
	audit, err := buslog.NewLogger(dir)
	if err != nil {
		return err
	}
	h.SetAuditLog(audit)
	if cfg.Notifications.Desktop {
		h.SetRequestNotifier(func(req *hub.InputRequest) {
			desktopnotify.Notify(desktopnotify.Request{
				RequestID: req.ID,
				SessionID: req.SessionID,
				Title:     req.Title,
				Question:  req.Question,
				Priority:  string(req.Priority),
			})
		})
	}

	srv, err := server.NewServer(h, cfg.Server.Host+":"+strconv.Itoa(cfg.Server.Port), server.Options{
		DefaultPoll: cfg.Inbox.DefaultPollDuration(),
		MaxPoll:     cfg.Inbox.MaxPollDuration(),
	})
	if err != nil {
		return err
	}

	if _, err := runtime.WriteInfo(dir, srv.Port()); err != nil {
		return fmt.Errorf("recording hub address: %w", err)
	}
	_ = audit.Append(buslog.LogEvent{Event: buslog.EventHubStarted, Port: srv.Port()})
	fmt.Printf("sessionbus hub listening on %s\n", srv.Addr())

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return srv.Stop()
	})

	err = g.Wait()
	_ = audit.Append(buslog.LogEvent{Event: buslog.EventHubStopped, Port: srv.Port()})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
