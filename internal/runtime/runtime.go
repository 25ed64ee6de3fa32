// Package runtime manages hub discovery: the runtime.json file advertising
// the running hub's address, free-port selection, reachability probes, and
// background autostart including PID file management.
package runtime

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	runtimeDirName  = ".sessionbus"
	runtimeFileName = "runtime.json"
	pidFileName     = "hub.pid"
	hubLogFileName  = "hub.log"
)

// Info is the contents of runtime.json: where the running hub listens.
type Info struct {
	Port      int    `json:"port"`
	BaseURL   string `json:"base_url"`
	UpdatedAt int64  `json:"updated_at"`
	// StartedNew reports whether EnsureRunning launched a fresh hub rather
	// than discovering an existing one. Not persisted.
	StartedNew bool `json:"-"`
}

// Dir returns the runtime directory (~/.sessionbus), creating it if needed.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, runtimeDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating runtime directory: %w", err)
	}
	return dir, nil
}

// DatabasePath returns the default SQLite database path inside dir.
func DatabasePath(dir string) string {
	return filepath.Join(dir, "sessionbus.db")
}

// WriteInfo records the running hub's address in runtime.json.
func WriteInfo(dir string, port int) (Info, error) {
	info := Info{
		Port:      port,
		BaseURL:   fmt.Sprintf("http://127.0.0.1:%d", port),
		UpdatedAt: time.Now().Unix(),
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return Info{}, fmt.Errorf("marshalling runtime info: %w", err)
	}
	path := filepath.Join(dir, runtimeFileName)
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return Info{}, fmt.Errorf("writing runtime info: %w", err)
	}
	return info, nil
}

// ReadInfo reads runtime.json from dir. Returns an error if the file is
// missing or malformed.
func ReadInfo(dir string) (Info, error) {
	data, err := os.ReadFile(filepath.Join(dir, runtimeFileName))
	if err != nil {
		return Info{}, fmt.Errorf("reading runtime info: %w", err)
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("parsing runtime info: %w", err)
	}
	if info.BaseURL == "" || info.Port == 0 {
		return Info{}, fmt.Errorf("runtime info incomplete: %s", string(data))
	}
	info.BaseURL = strings.TrimRight(info.BaseURL, "/")
	return info, nil
}

// PickFreePort asks the kernel for an unused localhost TCP port.
func PickFreePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("picking free port: %w", err)
	}
	defer func() { _ = ln.Close() }()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// IsReachable reports whether a hub answers on baseURL.
func IsReachable(baseURL string) bool {
	client := &http.Client{Timeout: time.Second}
	resp, err := client.Get(strings.TrimRight(baseURL, "/") + "/health")
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// WaitForReady polls baseURL until the hub answers or the timeout elapses.
func WaitForReady(baseURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if IsReachable(baseURL) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("hub did not become ready in %s: %s", timeout, baseURL)
}

// EnsureRunning discovers a reachable hub via runtime.json, or, when
// autostart is true, launches `sessionbus serve` in the background and waits
// for it to come up.
func EnsureRunning(dir string, autostart bool) (Info, error) {
	info, err := ReadInfo(dir)
	if err == nil && IsReachable(info.BaseURL) {
		return info, nil
	}

	if !autostart {
		return Info{}, fmt.Errorf("hub is not running; start it with `sessionbus serve`")
	}

	if err := startBackground(dir); err != nil {
		return Info{}, err
	}

	// The child writes runtime.json once its listener is bound.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		info, err := ReadInfo(dir)
		if err == nil && IsReachable(info.BaseURL) {
			info.StartedNew = true
			return info, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return Info{}, fmt.Errorf("background hub did not become ready")
}

// startBackground launches the current binary's serve command detached from
// this process, with output appended to hub.log.
func startBackground(dir string) error {
	if pid := readPIDFile(dir); pid > 0 && pidIsRunning(pid) {
		return nil
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving executable: %w", err)
	}

	logFile, err := os.OpenFile(
		filepath.Join(dir, hubLogFileName),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0644,
	)
	if err != nil {
		return fmt.Errorf("opening hub log file: %w", err)
	}

	cmd := exec.Command(self, "serve")
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return fmt.Errorf("starting background hub: %w", err)
	}
	_ = logFile.Close()

	if err := writePIDFile(dir, cmd.Process.Pid); err != nil {
		return err
	}

	// Detach: the hub outlives this process.
	go func() { _ = cmd.Wait() }()
	return nil
}

func writePIDFile(dir string, pid int) error {
	path := filepath.Join(dir, pidFileName)
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0644); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	return nil
}

func readPIDFile(dir string) int {
	data, err := os.ReadFile(filepath.Join(dir, pidFileName))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

func pidIsRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes liveness without affecting the process.
	return proc.Signal(syscall.Signal(0)) == nil
}
