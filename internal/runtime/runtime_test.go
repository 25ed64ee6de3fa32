package runtime

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

func TestWriteAndReadInfo(t *testing.T) {
	dir := t.TempDir()

	written, err := WriteInfo(dir, 8765)
	if err != nil {
		t.Fatalf("writing runtime info: %v", err)
	}
	if written.BaseURL != "http://127.0.0.1:8765" {
		t.Errorf("unexpected base url: %s", written.BaseURL)
	}

	read, err := ReadInfo(dir)
	if err != nil {
		t.Fatalf("reading runtime info: %v", err)
	}
	if read.Port != 8765 || read.BaseURL != written.BaseURL {
		t.Errorf("round trip mismatch: %+v", read)
	}
	if read.UpdatedAt == 0 {
		t.Error("updated_at must be stamped")
	}
}

func TestReadInfoMissing(t *testing.T) {
	if _, err := ReadInfo(t.TempDir()); err == nil {
		t.Fatal("expected an error for missing runtime.json")
	}
}

func TestPickFreePort(t *testing.T) {
	port, err := PickFreePort()
	if err != nil {
		t.Fatalf("picking free port: %v", err)
	}
	if port <= 0 || port > 65535 {
		t.Fatalf("invalid port %d", port)
	}

	// The port must actually be bindable.
	ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		t.Fatalf("binding picked port: %v", err)
	}
	_ = ln.Close()
}

func TestIsReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if !IsReachable(srv.URL) {
		t.Error("healthy hub must be reachable")
	}
	if IsReachable("http://127.0.0.1:1") {
		t.Error("closed port must not be reachable")
	}
}

func TestEnsureRunningWithoutAutostart(t *testing.T) {
	_, err := EnsureRunning(t.TempDir(), false)
	if err == nil {
		t.Fatal("expected an error when no hub is running and autostart is off")
	}
}
