// Package desktopnotify shows best-effort desktop notifications when an
// input request is waiting for a human. Notifications must never fail or
// block the request-creation flow; every error path here is silent.
package desktopnotify

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// envToggle disables notifications when set to a falsy value.
const envToggle = "SESSIONBUS_DESKTOP_NOTIFICATIONS"

// Request is the subset of an input request shown in a notification.
type Request struct {
	RequestID string
	SessionID string
	Title     string
	Question  string
	Priority  string
}

// Enabled reports whether desktop notifications should be attempted.
func Enabled() bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(envToggle)))
	switch value {
	case "0", "false", "no", "off":
		return false
	}
	return true
}

// Notify shows a notification for a pending input request. Fire-and-forget:
// the spawned process is not waited on and failures are ignored.
func Notify(req Request) {
	if !Enabled() {
		return
	}

	title := truncate(compact(req.Title), 80)
	if title == "" {
		title = "Input Request"
	}
	question := truncate(compact(req.Question), 220)
	if question == "" {
		question = "A request is waiting for your response."
	}
	subtitle := truncate(fmt.Sprintf("%s | %s", req.Priority, req.SessionID), 120)
	body := fmt.Sprintf("%s\n%s\nRequest: %s", subtitle, question, truncate(req.RequestID, 40))

	switch runtime.GOOS {
	case "darwin":
		notifyMacOS(title, body)
	case "linux":
		notifyLinux(title, body)
	}
}

func notifyMacOS(title, body string) {
	script := fmt.Sprintf(
		`display notification %s with title "SessionBus" subtitle %s`,
		appleScriptQuote(body), appleScriptQuote(title),
	)
	launch(exec.Command("osascript", "-e", script))
}

func notifyLinux(title, body string) {
	if _, err := exec.LookPath("notify-send"); err != nil {
		return
	}
	launch(exec.Command("notify-send", "SessionBus: "+title, body))
}

// launch starts cmd and reaps it in the background so notifications do not
// accumulate zombie children under a long-running server.
func launch(cmd *exec.Cmd) {
	if err := cmd.Start(); err != nil {
		return
	}
	go func() { _ = cmd.Wait() }()
}

// compact collapses all whitespace runs to single spaces.
func compact(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate shortens s to max characters, ellipsized when it fits.
func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func appleScriptQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
