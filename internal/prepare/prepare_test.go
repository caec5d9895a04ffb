package prepare

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// writeFakeCommand writes a shell script that behaves like the preparation
// command: it populates the last two arguments and appends its argument
// list to callLog.
func writeFakeCommand(t *testing.T, exitCode int) (cmd, callLog string) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}

	dir := t.TempDir()
	callLog = filepath.Join(dir, "calls.log")
	script := fmt.Sprintf(`#!/bin/sh
echo "$@" >> %q
n=$#
eval root=\${$((n-1))}
eval unpack=\${$n}
echo "fetching snaps"
if [ %d -ne 0 ]; then
	echo "cannot fetch model snaps" >&2
	exit %d
fi
mkdir -p "$root/var/lib/snapd/snaps" "$root/var/lib/snapd/seed/assertions" "$unpack/gadget/meta"
printf 'payload-bytes' > "$root/var/lib/snapd/snaps/core_1.snap"
printf 'name: pc\n' > "$unpack/gadget/meta/gadget.yaml"
ln -s ../snaps/core_1.snap "$root/var/lib/snapd/seed/core.snap"
printf 'no newline at end'
`, callLog, exitCode, exitCode)

	cmd = filepath.Join(dir, "fake-snap")
	if err := os.WriteFile(cmd, []byte(script), 0o755); err != nil { //nolint:gosec // Test script must be executable
		t.Fatalf("failed to write fake command: %v", err)
	}
	return cmd, callLog
}

func writeModel(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.assertion")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write model: %v", err)
	}
	return path
}

func newTestRequest(t *testing.T, modelPath, channel string) Request {
	t.Helper()
	dir := t.TempDir()
	req := Request{
		ModelPath: modelPath,
		Channel:   channel,
		RootDir:   filepath.Join(dir, "root"),
		UnpackDir: filepath.Join(dir, "unpack"),
	}
	for _, d := range []string{req.RootDir, req.UnpackDir} {
		if err := os.Mkdir(d, 0o750); err != nil {
			t.Fatal(err)
		}
	}
	return req
}

func countCalls(t *testing.T, callLog string) int {
	t.Helper()
	data, err := os.ReadFile(callLog) //nolint:gosec // Test file
	if errors.Is(err, os.ErrNotExist) {
		return 0
	}
	if err != nil {
		t.Fatal(err)
	}
	return strings.Count(string(data), "\n")
}

// TestCommandRunner_Args tests command line construction.
func TestCommandRunner_Args(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []CommandOption
		req  Request
		want []string
	}{
		{
			name: "default command with channel",
			req:  Request{ModelPath: "m", Channel: "edge", RootDir: "r", UnpackDir: "u"},
			want: []string{"snap", "weld", "--channel=edge", "m", "r", "u"},
		},
		{
			name: "empty channel omits flag",
			req:  Request{ModelPath: "m", RootDir: "r", UnpackDir: "u"},
			want: []string{"snap", "weld", "m", "r", "u"},
		},
		{
			name: "extra snaps and custom command",
			opts: []CommandOption{WithCommand("/opt/snap"), WithVerb("prepare-image")},
			req:  Request{ModelPath: "m", Channel: "beta", RootDir: "r", UnpackDir: "u", ExtraSnaps: []string{"hello", "vim"}},
			want: []string{"/opt/snap", "prepare-image", "--channel=beta", "--extra-snaps=hello", "--extra-snaps=vim", "m", "r", "u"},
		},
		{
			name: "empty verb",
			opts: []CommandOption{WithVerb("")},
			req:  Request{ModelPath: "m", Channel: "edge", RootDir: "r", UnpackDir: "u"},
			want: []string{"snap", "--channel=edge", "m", "r", "u"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := NewCommandRunner(tt.opts...).Args(tt.req)
			if strings.Join(got, " ") != strings.Join(tt.want, " ") {
				t.Errorf("Args() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestCommandRunner_Env tests that only allowed variables reach the command.
func TestCommandRunner_Env(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"PATH":              "/usr/bin",
		"HOME":              "/home/user",
		"UBUNTU_STORE_AUTH": "secret",
	}
	r := NewCommandRunner(WithEnvLookup(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))

	got := strings.Join(r.Env(), " ")
	if got != "PATH=/usr/bin UBUNTU_STORE_AUTH=secret" {
		t.Errorf("Env() = %q", got)
	}
}

// TestRequest_Validate tests request validation.
func TestRequest_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"complete", Request{ModelPath: "m", RootDir: "r", UnpackDir: "u"}, false},
		{"no model", Request{RootDir: "r", UnpackDir: "u"}, true},
		{"no root", Request{ModelPath: "m", UnpackDir: "u"}, true},
		{"no unpack", Request{ModelPath: "m", RootDir: "r"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrEmptyRequest) {
				t.Errorf("expected ErrEmptyRequest, got %v", err)
			}
		})
	}
}

// TestCommandRunner_Prepare tests running the fake command.
func TestCommandRunner_Prepare(t *testing.T) {
	t.Parallel()

	t.Run("success populates directories", func(t *testing.T) {
		t.Parallel()

		cmd, callLog := writeFakeCommand(t, 0)
		var logs bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
		r := NewCommandRunner(WithCommand(cmd), WithLogger(logger))

		req := newTestRequest(t, writeModel(t, "type: model\n"), "edge")
		res, err := r.Prepare(context.Background(), req)
		if err != nil {
			t.Fatalf("Prepare() error = %v", err)
		}
		if res.Cached {
			t.Error("command runner must never report a cache hit")
		}

		data, err := os.ReadFile(filepath.Join(req.RootDir, "var/lib/snapd/snaps/core_1.snap"))
		if err != nil || string(data) != "payload-bytes" {
			t.Errorf("unexpected snap content %q, err %v", data, err)
		}
		if countCalls(t, callLog) != 1 {
			t.Errorf("expected one invocation")
		}
		out := logs.String()
		if !strings.Contains(out, "fetching snaps") || !strings.Contains(out, "no newline at end") {
			t.Errorf("expected command output in logs, got %s", out)
		}
	})

	t.Run("non-zero exit returns CommandError", func(t *testing.T) {
		t.Parallel()

		cmd, _ := writeFakeCommand(t, 3)
		r := NewCommandRunner(WithCommand(cmd))
		req := newTestRequest(t, writeModel(t, "type: model\n"), "edge")

		_, err := r.Prepare(context.Background(), req)
		if !errors.Is(err, ErrCommandFailed) {
			t.Fatalf("expected ErrCommandFailed, got %v", err)
		}
		var cmdErr *CommandError
		if !errors.As(err, &cmdErr) {
			t.Fatalf("expected *CommandError, got %T", err)
		}
		if cmdErr.ExitCode != 3 {
			t.Errorf("ExitCode = %d, want 3", cmdErr.ExitCode)
		}
		if !strings.Contains(cmdErr.Output, "cannot fetch model snaps") {
			t.Errorf("Output = %q", cmdErr.Output)
		}
		if !strings.Contains(err.Error(), "cannot fetch model snaps") {
			t.Errorf("Error() should include the last output line: %s", err)
		}
	})

	t.Run("missing binary", func(t *testing.T) {
		t.Parallel()

		r := NewCommandRunner(WithCommand(filepath.Join(t.TempDir(), "missing")))
		req := newTestRequest(t, writeModel(t, "type: model\n"), "edge")
		_, err := r.Prepare(context.Background(), req)
		if !errors.Is(err, ErrCommandNotFound) {
			t.Errorf("expected ErrCommandNotFound, got %v", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()

		cmd, _ := writeFakeCommand(t, 0)
		r := NewCommandRunner(WithCommand(cmd))
		req := newTestRequest(t, writeModel(t, "type: model\n"), "edge")

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := r.Prepare(ctx, req)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

// TestCachingRunner tests that repeated requests reuse the first result.
func TestCachingRunner(t *testing.T) {
	t.Parallel()

	cmd, callLog := writeFakeCommand(t, 0)
	cacheDir := filepath.Join(t.TempDir(), "cache")
	c := NewCachingRunner(NewCommandRunner(WithCommand(cmd)), cacheDir)
	model := writeModel(t, "type: model\nmodel: pc\n")
	ctx := context.Background()

	first := newTestRequest(t, model, "edge")
	res, err := c.Prepare(ctx, first)
	if err != nil {
		t.Fatalf("first Prepare() error = %v", err)
	}
	if res.Cached {
		t.Error("first request should miss the cache")
	}

	second := newTestRequest(t, model, "edge")
	// Stale content in the target must be replaced.
	if err := os.WriteFile(filepath.Join(second.RootDir, "stale"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	res, err = c.Prepare(ctx, second)
	if err != nil {
		t.Fatalf("second Prepare() error = %v", err)
	}
	if !res.Cached {
		t.Error("second request should hit the cache")
	}
	if countCalls(t, callLog) != 1 {
		t.Errorf("expected the command to run once, ran %d times", countCalls(t, callLog))
	}
	if _, err := os.Stat(filepath.Join(second.RootDir, "stale")); !os.IsNotExist(err) {
		t.Error("stale file should have been removed")
	}
	data, err := os.ReadFile(filepath.Join(second.UnpackDir, "gadget/meta/gadget.yaml"))
	if err != nil || string(data) != "name: pc\n" {
		t.Errorf("unexpected gadget.yaml %q, err %v", data, err)
	}
	link, err := os.Readlink(filepath.Join(second.RootDir, "var/lib/snapd/seed/core.snap"))
	if err != nil || link != "../snaps/core_1.snap" {
		t.Errorf("symlink not preserved: %q, %v", link, err)
	}

	// A different channel is a different key.
	third := newTestRequest(t, model, "beta")
	if res, err := c.Prepare(ctx, third); err != nil || res.Cached {
		t.Errorf("different channel: cached=%v err=%v", res.Cached, err)
	}
	if countCalls(t, callLog) != 2 {
		t.Errorf("expected two invocations, got %d", countCalls(t, callLog))
	}
}

// TestCachingRunner_Purge tests that purging forces a fresh run.
func TestCachingRunner_Purge(t *testing.T) {
	t.Parallel()

	cmd, callLog := writeFakeCommand(t, 0)
	cacheDir := filepath.Join(t.TempDir(), "cache")
	c := NewCachingRunner(NewCommandRunner(WithCommand(cmd)), cacheDir)
	model := writeModel(t, "type: model\nmodel: pc\n")
	ctx := context.Background()

	if _, err := c.Prepare(ctx, newTestRequest(t, model, "edge")); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if err := c.Purge(); err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if _, err := os.Stat(cacheDir); !os.IsNotExist(err) {
		t.Errorf("expected cache dir to be removed, stat err = %v", err)
	}

	res, err := c.Prepare(ctx, newTestRequest(t, model, "edge"))
	if err != nil {
		t.Fatalf("Prepare() after purge error = %v", err)
	}
	if res.Cached {
		t.Error("request after purge should miss the cache")
	}
	if countCalls(t, callLog) != 2 {
		t.Errorf("expected two invocations, got %d", countCalls(t, callLog))
	}
}

// TestCachingRunner_FailureLeavesNoEntry tests that failed runs are not cached.
func TestCachingRunner_FailureLeavesNoEntry(t *testing.T) {
	t.Parallel()

	cmd, _ := writeFakeCommand(t, 1)
	cacheDir := filepath.Join(t.TempDir(), "cache")
	c := NewCachingRunner(NewCommandRunner(WithCommand(cmd)), cacheDir)
	req := newTestRequest(t, writeModel(t, "type: model\n"), "edge")

	if _, err := c.Prepare(context.Background(), req); !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("expected ErrCommandFailed, got %v", err)
	}
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty cache, found %d entries", len(entries))
	}
}

// TestCachingRunner_Key tests the cache key derivation.
func TestCachingRunner_Key(t *testing.T) {
	t.Parallel()

	c := NewCachingRunner(nil, t.TempDir())
	model := writeModel(t, "abc")

	empty, err := c.Key(Request{ModelPath: model})
	if err != nil {
		t.Fatal(err)
	}
	def, err := c.Key(Request{ModelPath: model, Channel: "default"})
	if err != nil {
		t.Fatal(err)
	}
	if empty != def {
		t.Error("empty channel should hash like \"default\"")
	}

	edge, err := c.Key(Request{ModelPath: model, Channel: "edge"})
	if err != nil {
		t.Fatal(err)
	}
	if edge == def {
		t.Error("channels should produce different keys")
	}
	if len(edge) != 64 {
		t.Errorf("key length = %d, want 64", len(edge))
	}
}

// TestWorkspace tests creation and cleanup of temporary directories.
func TestWorkspace(t *testing.T) {
	t.Parallel()

	t.Run("close removes directories", func(t *testing.T) {
		t.Parallel()

		ws, err := NewWorkspace(t.TempDir(), "latest/edge")
		if err != nil {
			t.Fatal(err)
		}
		for _, d := range []string{ws.RootDir, ws.UnpackDir} {
			if fi, err := os.Stat(d); err != nil || !fi.IsDir() {
				t.Fatalf("expected directory %s", d)
			}
		}
		if strings.Contains(filepath.Base(ws.Base), "/") {
			t.Error("label must be sanitized")
		}
		if err := ws.Close(); err != nil {
			t.Fatal(err)
		}
		if err := ws.Close(); err != nil {
			t.Errorf("second Close() error = %v", err)
		}
		if _, err := os.Stat(ws.Base); !os.IsNotExist(err) {
			t.Error("workspace should be removed")
		}
		if !ws.Closed() {
			t.Error("Closed() should be true")
		}
	})

	t.Run("keep leaves directories", func(t *testing.T) {
		t.Parallel()

		ws, err := NewWorkspace(t.TempDir(), "edge", WithKeep(true))
		if err != nil {
			t.Fatal(err)
		}
		if err := ws.Close(); err != nil {
			t.Fatal(err)
		}
		if _, err := os.Stat(ws.RootDir); err != nil {
			t.Errorf("root should be kept: %v", err)
		}
	})

	t.Run("request targets workspace", func(t *testing.T) {
		t.Parallel()

		ws, err := NewWorkspace(t.TempDir(), "edge")
		if err != nil {
			t.Fatal(err)
		}
		defer ws.Close() //nolint:errcheck // Test cleanup

		req := ws.Request("m", "edge", []string{"hello"})
		if req.RootDir != ws.RootDir || req.UnpackDir != ws.UnpackDir || req.ExtraSnaps[0] != "hello" {
			t.Errorf("unexpected request %+v", req)
		}
	})
}
