// sessions.go implements "sessionbus sessions", "sessionbus register", and
// "sessionbus heartbeat".
package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentflow-dev/sessionbus/internal/client"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List registered sessions",
	RunE:  runSessions,
}

func runSessions(cmd *cobra.Command, args []string) error {
	c, err := hubClient()
	if err != nil {
		return err
	}
	summaries, err := c.ListSessions(cmd.Context())
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("No sessions registered.")
		return nil
	}

	fmt.Printf("  %-36s  %-18s  %-8s  %-8s  %s\n", "SESSION", "STATE", "PENDING", "AGE", "NAME")
	for _, s := range summaries {
		age := formatAge(time.Since(s.LastHeartbeatAt))
		fmt.Printf("  %-36s  %-18s  %-8d  %-8s  %s\n", s.ID, s.State, s.PendingRequests, age, s.DisplayName)
	}
	return nil
}

var registerCmd = &cobra.Command{
	Use:   "register [display-name]",
	Short: "Register a new session",
	Args:  cobra.ExactArgs(1),
	RunE:  runRegister,
}

var (
	registerTenantFlag string
	registerMetaFlag   []string
)

func init() {
	registerCmd.Flags().StringVar(&registerTenantFlag, "tenant", "", "Tenant the session belongs to")
	registerCmd.Flags().StringArrayVar(&registerMetaFlag, "meta", nil, "Metadata entry as key=value (repeatable)")
	heartbeatCmd.Flags().StringVar(&heartbeatStateFlag, "state", "", "New session state")
	heartbeatCmd.Flags().StringArrayVar(&heartbeatMetaFlag, "meta", nil, "Metadata entry as key=value (repeatable)")
}

func runRegister(cmd *cobra.Command, args []string) error {
	metadata, err := parseMeta(registerMetaFlag)
	if err != nil {
		return err
	}
	c, err := hubClient()
	if err != nil {
		return err
	}
	sess, err := c.Register(cmd.Context(), client.RegisterInput{
		DisplayName: args[0],
		TenantID:    registerTenantFlag,
		Metadata:    metadata,
	})
	if err != nil {
		return err
	}
	fmt.Println(sess.ID)
	return nil
}

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat [session-id]",
	Short: "Record a session heartbeat, optionally updating state",
	Args:  cobra.ExactArgs(1),
	RunE:  runHeartbeat,
}

var (
	heartbeatStateFlag string
	heartbeatMetaFlag  []string
)

func runHeartbeat(cmd *cobra.Command, args []string) error {
	metadata, err := parseMeta(heartbeatMetaFlag)
	if err != nil {
		return err
	}
	c, err := hubClient()
	if err != nil {
		return err
	}
	sess, err := c.Heartbeat(cmd.Context(), args[0], client.HeartbeatInput{
		State:    heartbeatStateFlag,
		Metadata: metadata,
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", sess.ID, sess.State)
	return nil
}

// parseMeta turns repeated key=value flags into a map.
func parseMeta(entries []string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	metadata := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --meta entry %q, want key=value", entry)
		}
		metadata[key] = value
	}
	return metadata, nil
}

// formatAge renders a duration compactly for table output.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}
