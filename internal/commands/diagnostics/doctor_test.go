// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package diagnostics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/tombee/powerd/internal/commands/shared"
)

func stubDaemon(t *testing.T) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/health":
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		case "/v1/version":
			json.NewEncoder(w).Encode(map[string]string{"version": "0.3.0"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	t.Setenv("POWERD_HOST", "tcp://"+server.Listener.Addr().String())
}

func setConfigFlag(t *testing.T, path string) {
	t.Helper()
	_, _, _, cfgPtr, _ := shared.RegisterFlagPointers()
	old := *cfgPtr
	*cfgPtr = path
	t.Cleanup(func() { *cfgPtr = old })
}

func testCommand(t *testing.T) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	cmd := &cobra.Command{}
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	return cmd, &buf
}

// writeFixture lays out a config file, data dir, and unit dir under a
// temp root and points the --config flag at it.
func writeFixture(t *testing.T, units map[string]string) string {
	t.Helper()
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	unitDir := filepath.Join(root, "services")
	for _, dir := range []string{dataDir, unitDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	for name, body := range units {
		if err := os.WriteFile(filepath.Join(unitDir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := fmt.Sprintf("daemon:\n  data_dir: %s\nservices:\n  dir: %s\n", dataDir, unitDir)
	cfgPath := filepath.Join(root, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}

	setConfigFlag(t, cfgPath)
	return root
}

func TestNewDoctorCommand(t *testing.T) {
	cmd := NewDoctorCommand()
	if cmd.Use != "doctor" {
		t.Errorf("expected use 'doctor', got %q", cmd.Use)
	}
}

func TestDoctor_Healthy(t *testing.T) {
	stubDaemon(t)
	writeFixture(t, map[string]string{
		"telemetry.yaml": "name: telemetry\ncommand: [\"/usr/bin/telemetryd\"]\n",
	})

	cmd, buf := testCommand(t)
	if err := runDoctor(cmd, nil); err != nil {
		t.Fatalf("runDoctor failed: %v\n%s", err, buf.String())
	}

	output := buf.String()
	for _, want := range []string{"Overall Status: Healthy", "Reachable: Yes", "Units: 1"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestDoctor_DaemonDown(t *testing.T) {
	t.Setenv("POWERD_HOST", "unix:///nonexistent/powerd.sock")
	writeFixture(t, nil)

	cmd, buf := testCommand(t)
	err := runDoctor(cmd, nil)
	if err == nil {
		t.Fatal("expected an error when the daemon is unreachable")
	}

	output := buf.String()
	for _, want := range []string{"Reachable: No", "Overall Status: Issues Found", "not running"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestDoctor_InvalidUnit(t *testing.T) {
	stubDaemon(t)
	writeFixture(t, map[string]string{
		"good.yaml":   "name: good\ncommand: [\"/bin/true\"]\n",
		"broken.yaml": "name: broken\n", // no command
	})

	cmd, buf := testCommand(t)
	err := runDoctor(cmd, nil)
	if err == nil {
		t.Fatal("expected an error for a broken unit file")
	}

	output := buf.String()
	if !strings.Contains(output, "Units: 1") {
		t.Errorf("good unit should still count:\n%s", output)
	}
	if !strings.Contains(output, "broken") {
		t.Errorf("output should name the broken unit:\n%s", output)
	}
	if !strings.Contains(output, "skips units that fail to parse") {
		t.Errorf("output missing the unit-fix recommendation:\n%s", output)
	}
}

func TestDoctor_InvalidConfig(t *testing.T) {
	stubDaemon(t)

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("log:\n  level: shouting\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	setConfigFlag(t, cfgPath)

	cmd, buf := testCommand(t)
	err := runDoctor(cmd, nil)
	if err == nil {
		t.Fatal("expected an error for an invalid config")
	}

	output := buf.String()
	if !strings.Contains(output, "Valid: No") {
		t.Errorf("output should flag the invalid config:\n%s", output)
	}
	if !strings.Contains(output, "powerctl setup") {
		t.Errorf("output missing the setup recommendation:\n%s", output)
	}
}
