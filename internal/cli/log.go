// log.go implements "sessionbus log" showing the tail of the audit log.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentflow-dev/sessionbus/internal/buslog"
	"github.com/agentflow-dev/sessionbus/internal/runtime"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent hub audit events",
	RunE:  runLog,
}

var logLimitFlag int

func init() {
	logCmd.Flags().IntVar(&logLimitFlag, "limit", 20, "Number of events to show")
}

func runLog(cmd *cobra.Command, args []string) error {
	dir, err := runtime.Dir()
	if err != nil {
		return err
	}
	logger, err := buslog.NewLogger(dir)
	if err != nil {
		return err
	}
	events, err := logger.ReadAll()
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No events logged.")
		return nil
	}

	if logLimitFlag > 0 && len(events) > logLimitFlag {
		events = events[len(events)-logLimitFlag:]
	}
	for _, ev := range events {
		fmt.Printf("%s  %-20s%s\n", ev.Time.Format("2006-01-02 15:04:05"), ev.Event, formatLogDetail(ev))
	}
	return nil
}

func formatLogDetail(ev buslog.LogEvent) string {
	var parts []string
	if ev.SessionID != "" {
		parts = append(parts, "session="+ev.SessionID)
	}
	if ev.RequestID != "" {
		parts = append(parts, "request="+ev.RequestID)
	}
	if ev.MessageID != "" {
		parts = append(parts, "message="+ev.MessageID)
	}
	if ev.State != "" {
		parts = append(parts, "state="+ev.State)
	}
	if ev.Priority != "" {
		parts = append(parts, "priority="+ev.Priority)
	}
	if ev.Responder != "" {
		parts = append(parts, "responder="+ev.Responder)
	}
	if ev.Port != 0 {
		parts = append(parts, fmt.Sprintf("port=%d", ev.Port))
	}
	if ev.Error != "" {
		parts = append(parts, "error="+ev.Error)
	}
	if len(parts) == 0 {
		return ""
	}
	return "  " + strings.Join(parts, " ")
}
