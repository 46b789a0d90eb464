package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// resetFlags restores every flag of cmd and its children to its default so
// one Execute does not leak into the next.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// runCLI executes the root command with args and returns its output.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// isolateHome points HOME at a temp dir so no test touches real files.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func TestVersionCommand(t *testing.T) {
	isolateHome(t)

	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	for _, want := range []string{"fwrdsync dev", "feed sync engine", "commit:", "go version:", "github.com/pders01/fwrdsync"} {
		if !strings.Contains(out, want) {
			t.Errorf("version output missing %q. Got:\n%s", want, out)
		}
	}
}

func TestVersionShort(t *testing.T) {
	isolateHome(t)

	out, err := runCLI(t, "version", "--short")
	if err != nil {
		t.Fatalf("version --short failed: %v", err)
	}
	if strings.TrimSpace(out) != Version {
		t.Errorf("expected %q, got %q", Version, out)
	}
}

func TestVersionJSON(t *testing.T) {
	isolateHome(t)

	out, err := runCLI(t, "version", "--json")
	if err != nil {
		t.Fatalf("version --json failed: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("invalid JSON output: %v\nGot: %s", err, out)
	}
	for _, key := range []string{"version", "commit", "built", "goVersion", "platform"} {
		if _, ok := info[key]; !ok {
			t.Errorf("JSON output missing key %q", key)
		}
	}
}

func TestGenerateConfigCommand(t *testing.T) {
	home := isolateHome(t)
	configFile := filepath.Join(home, ".config", "fwrdsync", "config.toml")

	out, err := runCLI(t, "config", "generate")
	if err != nil {
		t.Fatalf("config generate failed: %v", err)
	}
	if !strings.Contains(out, "Generated default configuration at:") {
		t.Errorf("unexpected output: %s", out)
	}
	if _, err := os.Stat(configFile); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	if _, err := runCLI(t, "config", "generate"); err == nil {
		t.Error("expected an error when the file exists")
	}
	if _, err := runCLI(t, "config", "generate", "--force"); err != nil {
		t.Errorf("--force should overwrite: %v", err)
	}

	custom := filepath.Join(home, "custom.toml")
	if _, err := runCLI(t, "config", "generate", "--path", custom); err != nil {
		t.Fatalf("config generate --path failed: %v", err)
	}
	data, err := os.ReadFile(custom)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "flush_threshold = 100") {
		t.Errorf("generated config missing sync defaults:\n%s", data)
	}
}

func TestConfigValidateCommand(t *testing.T) {
	home := isolateHome(t)

	good := filepath.Join(home, "good.toml")
	writeFile(t, good, "[backend]\nkind = \"local\"\n")
	out, err := runCLI(t, "--config", good, "config", "validate")
	if err != nil {
		t.Fatalf("config validate failed: %v", err)
	}
	if !strings.Contains(out, "Configuration is valid") {
		t.Errorf("unexpected output: %s", out)
	}

	bad := filepath.Join(home, "bad.toml")
	writeFile(t, bad, "[backend]\nkind = \"readerapi\"\nendpoint = \"not a url\"\n")
	_, err = runCLI(t, "--config", bad, "config", "validate")
	if err == nil {
		t.Fatal("expected validation to fail")
	}
	for _, want := range []string{"backend.endpoint", "backend.username"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestConfigValidateRemoteFeedWrangler(t *testing.T) {
	home := isolateHome(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/authorize" || r.URL.Query().Get("password") != "hunter2" {
			fmt.Fprint(w, `{"result":"error","error":"Invalid email or password"}`)
			return
		}
		fmt.Fprint(w, `{"result":"success","access_token":"token"}`)
	}))
	t.Cleanup(srv.Close)

	write := func(name, password string) string {
		path := filepath.Join(home, name)
		writeFile(t, path, fmt.Sprintf("[backend]\nkind = \"feedwrangler\"\nendpoint = %q\nusername = \"me@example.com\"\npassword = %q\n", srv.URL, password))
		return path
	}

	out, err := runCLI(t, "--config", write("good.toml", "hunter2"), "config", "validate", "--remote")
	if err != nil {
		t.Fatalf("config validate --remote failed: %v", err)
	}
	if !strings.Contains(out, "Credentials accepted by "+srv.URL) {
		t.Errorf("unexpected output: %s", out)
	}

	_, err = runCLI(t, "--config", write("bad.toml", "wrong"), "config", "validate", "--remote")
	if err == nil || !strings.Contains(err.Error(), "Invalid email or password") {
		t.Errorf("expected rejected credentials, got %v", err)
	}
}

func TestRootShowsHelp(t *testing.T) {
	isolateHome(t)

	out, err := runCLI(t, "--quiet")
	if err != nil {
		t.Fatalf("root command failed: %v", err)
	}
	if !strings.Contains(out, "Available Commands") {
		t.Errorf("expected help output, got:\n%s", out)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}
