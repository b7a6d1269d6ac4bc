package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/pkgrestore/internal/testutil"
	"github.com/matzehuels/pkgrestore/pkg/feed"
	"github.com/matzehuels/pkgrestore/pkg/feedserver"
	"github.com/matzehuels/pkgrestore/pkg/lockfile"
	"github.com/matzehuels/pkgrestore/pkg/project"
)

const appProject = `
name = "App"
version = "1.0.0"

[[dependencies]]
id = "Sample"
range = "1.0.0"

[frameworks."net8.0"]
`

type env struct {
	root     string
	feed     string
	packages string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{root: root, feed: filepath.Join(root, "feed"), packages: filepath.Join(root, "packages")}
	require.NoError(t, os.MkdirAll(e.feed, 0o755))
	testutil.WriteFeed(t, e.feed, testutil.NewPackage("Sample", "1.0.0").File("lib/net/sample.dll", "dll"))
	return e
}

func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, logs bytes.Buffer
	args = append(args, "--source", e.feed, "--packages", e.packages, "--http-cache", "none")
	err := Execute(context.Background(), args, &out, &logs)
	t.Logf("logs:\n%s", logs.String())
	return out.String(), err
}

func TestRestoreCommand(t *testing.T) {
	e := newEnv(t)
	dir := filepath.Join(e.root, "App")
	testutil.WriteFile(t, dir, project.FileName, appProject)
	metrics := filepath.Join(e.root, "metrics.prom")

	out, err := e.run(t, "restore", dir, "--metrics-file", metrics)
	require.NoError(t, err)
	assert.Contains(t, out, "Restored")
	assert.FileExists(t, filepath.Join(e.packages, "Sample", "1.0.0", "lib", "net", "sample.dll"))
	assert.FileExists(t, filepath.Join(dir, lockfile.FileName))

	data, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(data), `pkgrestore_restores_total{result="success"} 1`)
}

func TestRestoreCommandProjectFileAndLockFile(t *testing.T) {
	e := newEnv(t)
	path := testutil.WriteFile(t, filepath.Join(e.root, "App"), project.FileName, appProject)
	lock := filepath.Join(e.root, "out.lock.json")

	_, err := e.run(t, "restore", path, "--lock-file", lock)
	require.NoError(t, err)
	lf, err := lockfile.Read(lock)
	require.NoError(t, err)
	assert.Contains(t, lf.Libraries, "Sample/1.0.0")
}

func TestRestoreCommandMissingFails(t *testing.T) {
	e := newEnv(t)
	dir := filepath.Join(e.root, "App")
	testutil.WriteFile(t, dir, project.FileName, appProject+`
[[frameworks."net8.0".dependencies]]
id = "Nowhere"
range = "1.0.0"
`)

	out, err := e.run(t, "restore", dir)
	assert.True(t, errors.Is(err, ErrRestoreFailed))
	assert.Contains(t, out, "missing Nowhere")
	assert.NoFileExists(t, filepath.Join(dir, lockfile.FileName))
}

func TestRestoreCommandDryRun(t *testing.T) {
	e := newEnv(t)
	dir := filepath.Join(e.root, "App")
	testutil.WriteFile(t, dir, project.FileName, appProject)

	out, err := e.run(t, "restore", dir, "--dry-run", "--parallel", "none")
	require.NoError(t, err)
	assert.Contains(t, out, "dry run")
	assert.NoDirExists(t, e.packages)
}

func TestRestoreCommandSettingsFile(t *testing.T) {
	e := newEnv(t)
	dir := filepath.Join(e.root, "App")
	testutil.WriteFile(t, dir, project.FileName, appProject)
	testutil.WriteFile(t, dir, "pkgrestore.toml", `parallel = "many"`)

	_, err := e.run(t, "restore", dir)
	assert.Error(t, err)
}

func TestRestoreCommandWorkspace(t *testing.T) {
	e := newEnv(t)
	ws := filepath.Join(e.root, "ws")
	testutil.WriteFile(t, ws, project.WorkspaceFileName, `projects = ["App", "Lib"]`)
	testutil.WriteFile(t, ws, "Lib/"+project.FileName, "name = \"Lib\"\nversion = \"1.0.0\"\n[frameworks.\"net8.0\"]\n")
	testutil.WriteFile(t, ws, "App/"+project.FileName, appProject+`
[[frameworks."net8.0".dependencies]]
id = "Lib"
range = "1.0.0"
type = "project"
`)

	out, err := e.run(t, "restore", "--solution-dir", ws)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "Restored"))
	assert.FileExists(t, filepath.Join(ws, "App", lockfile.FileName))
	assert.FileExists(t, filepath.Join(ws, "Lib", lockfile.FileName))
}

func TestGraphCommand(t *testing.T) {
	e := newEnv(t)
	dir := filepath.Join(e.root, "App")
	testutil.WriteFile(t, dir, project.FileName, appProject)

	out, err := e.run(t, "graph", dir)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "digraph G {"))
	assert.Contains(t, out, `"Sample 1.0.0"`)
	assert.NoDirExists(t, e.packages)

	out, err = e.run(t, "graph", dir, "--format", "json")
	require.NoError(t, err)
	var docs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "net8.0", docs[0]["framework"])

	_, err = e.run(t, "graph", dir, "--graph", "net6.0")
	assert.Error(t, err)
	_, err = e.run(t, "graph", dir, "--format", "png")
	assert.Error(t, err)
}

func TestGraphCommandSVG(t *testing.T) {
	e := newEnv(t)
	dir := filepath.Join(e.root, "App")
	testutil.WriteFile(t, dir, project.FileName, appProject)
	output := filepath.Join(e.root, "app.svg")

	_, err := e.run(t, "graph", dir, "--format", "svg", "--graph", "net8.0", "-o", output)
	require.NoError(t, err)
	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<svg")
}

func TestRunServer(t *testing.T) {
	e := newEnv(t)
	f, err := feed.NewDir(e.feed)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runServer(ctx, feedserver.New(f).Handler(), ln, log.New(io.Discard))
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/sample/index.json")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "1.0.0")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
