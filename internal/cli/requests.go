// requests.go implements "sessionbus requests", "sessionbus show", and
// "sessionbus respond".
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentflow-dev/sessionbus/internal/client"
	"github.com/agentflow-dev/sessionbus/internal/hub"
)

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "List input requests",
	Long: `List input requests across all sessions. Pending requests sort
urgent-first; use --status to filter.`,
	RunE: runRequests,
}

var requestsStatusFlag string

func init() {
	requestsCmd.Flags().StringVar(&requestsStatusFlag, "status", "", "Filter by status (PENDING or ANSWERED)")
	respondCmd.Flags().StringVar(&respondResponderFlag, "responder", "", "Responder identity recorded with the answer")
	respondCmd.Flags().StringVar(&respondKeyFlag, "key", "", "Idempotency key making the respond safe to retry")
}

func runRequests(cmd *cobra.Command, args []string) error {
	c, err := hubClient()
	if err != nil {
		return err
	}
	requests, err := c.ListRequests(cmd.Context(), strings.ToUpper(requestsStatusFlag))
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		fmt.Println("No requests.")
		return nil
	}

	fmt.Printf("  %-36s  %-8s  %-8s  %s\n", "REQUEST", "STATUS", "PRIORITY", "TITLE")
	for _, r := range requests {
		fmt.Printf("  %-36s  %-8s  %-8s  %s\n", r.ID, r.Status, r.Priority, r.Title)
	}
	return nil
}

var showCmd = &cobra.Command{
	Use:   "show [request-id]",
	Short: "Show one input request in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	c, err := hubClient()
	if err != nil {
		return err
	}
	req, err := c.GetRequest(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Request:   %s\n", req.ID)
	fmt.Printf("Session:   %s\n", req.SessionID)
	fmt.Printf("Status:    %s\n", req.Status)
	fmt.Printf("Priority:  %s\n", req.Priority)
	if len(req.Tags) > 0 {
		fmt.Printf("Tags:      %s\n", strings.Join(req.Tags, ", "))
	}
	fmt.Printf("Title:     %s\n", req.Title)
	fmt.Printf("Question:  %s\n", req.Question)
	if req.Status == hub.RequestAnswered {
		fmt.Printf("Answer:    %s\n", req.ResponseText)
		fmt.Printf("Responder: %s\n", req.Responder)
		if req.AnsweredAt != nil {
			fmt.Printf("Answered:  %s\n", req.AnsweredAt.Format("2006-01-02 15:04:05"))
		}
	}
	return nil
}

var respondCmd = &cobra.Command{
	Use:   "respond [request-id] [response-text]",
	Short: "Answer a pending input request",
	Long: `Answer a pending request. The response is delivered to the asking
session's inbox, waking any in-flight poll. Responding to an already
answered request is a no-op that prints the original answer.`,
	Args: cobra.ExactArgs(2),
	RunE: runRespond,
}

var (
	respondResponderFlag string
	respondKeyFlag       string
)

func runRespond(cmd *cobra.Command, args []string) error {
	c, err := hubClient()
	if err != nil {
		return err
	}
	req, err := c.Respond(cmd.Context(), args[0], client.RespondInput{
		ResponseText:   args[1],
		Responder:      respondResponderFlag,
		IdempotencyKey: respondKeyFlag,
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s answered by %s: %s\n", req.ID, req.Responder, req.ResponseText)
	return nil
}
