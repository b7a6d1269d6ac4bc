package provider

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/pkgrestore/internal/testutil"
	"github.com/matzehuels/pkgrestore/pkg/library"
	"github.com/matzehuels/pkgrestore/pkg/project"
	"github.com/matzehuels/pkgrestore/pkg/repository"
	"github.com/matzehuels/pkgrestore/pkg/versioning"
)

func rng(t *testing.T, name, raw string, typ library.Type) library.Range {
	t.Helper()
	r, err := library.NewRange(name, raw, typ)
	require.NoError(t, err)
	return r
}

func TestRemoteFindLibrary(t *testing.T) {
	ctx := context.Background()
	feed := testutil.NewMemoryFeed(t, "a",
		testutil.NewPackage("Sample", "1.0.0"),
		testutil.NewPackage("Sample", "1.5.0"),
		testutil.NewPackage("Sample", "2.0.0"),
	)
	p := NewRemote(feed, nil)

	id, ok, err := p.FindLibrary(ctx, rng(t, "sample", "[1.0,2.0)", library.TypeAny), "net8.0")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Sample 1.5.0", id.String(), "highest in range with source casing")

	_, ok, err = p.FindLibrary(ctx, rng(t, "Sample", "3.0.0", library.TypeAny), "net8.0")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = p.FindLibrary(ctx, rng(t, "Sample", "1.0.0", library.TypeProject), "net8.0")
	require.NoError(t, err)
	assert.False(t, ok, "remote never satisfies project constraints")

	assert.Equal(t, KindRemote, p.Kind())
	assert.True(t, p.IsHTTP())
	assert.Equal(t, "memory://a", p.Name())
}

func TestRemoteDownloadsOnce(t *testing.T) {
	ctx := context.Background()
	feed := testutil.NewMemoryFeed(t, "a", testutil.NewPackage("Sample", "1.0.0").
		DependsOn("net8.0", "Other", "1.0.0").
		DependsOn("any", "Base", "1.0.0").
		WithRuntime(`{"runtimes":{"rid-A":{"Sample":{"Sample.rid-A":"1.0.0"}}}}`))
	p := NewRemote(feed, nil)
	id := library.NewIdentity("Sample", versioning.MustParse("1.0.0"))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.GetDependencies(ctx, id, "net8.0")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	deps, err := p.GetDependencies(ctx, id, "net8.0")
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "Other", deps[0].Name)

	deps, err = p.GetDependencies(ctx, id, "net6.0")
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "Base", deps[0].Name, "framework-agnostic fallback group")

	g, err := p.GetRuntimeGraph(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, g)

	rc, size, err := p.CopyContent(ctx, id)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, int64(len(data)), size)

	assert.Equal(t, int64(1), feed.Downloads.Load())
}

func TestRemoteDownloadError(t *testing.T) {
	feed := testutil.NewMemoryFeed(t, "a", testutil.NewPackage("Sample", "1.0.0"))
	feed.Fail = errors.New("connection reset")
	p := NewRemote(feed, nil)

	_, err := p.GetDependencies(context.Background(), library.NewIdentity("Sample", versioning.MustParse("1.0.0")), "net8.0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestLocalProvider(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	layout := repository.NewLayout(root)

	for _, v := range []string{"1.0.0", "2.0.0"} {
		pkg := testutil.NewPackage("Sample", v).DependsOn("any", "Base", "1.0.0")
		id := library.NewIdentity("Sample", versioning.MustParse(v))
		data := pkg.Build(t)
		require.NoError(t, os.MkdirAll(layout.VersionDir(id), 0755))
		require.NoError(t, os.WriteFile(layout.ArchivePath(id), data, 0644))
		testutil.WriteFile(t, layout.VersionDir(id), "manifest.json",
			`{"id":"Sample","version":"`+v+`","dependencies":{"any":[{"id":"Base","range":"1.0.0"}]}}`)
		require.NoError(t, os.WriteFile(layout.MarkerPath(id), []byte("x"), 0644))
	}

	p := NewLocal(repository.NewLocal(root))
	id, ok, err := p.FindLibrary(ctx, rng(t, "SAMPLE", "1.0.0", library.TypeAny), "net8.0")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Sample 2.0.0", id.String())

	deps, err := p.GetDependencies(ctx, id, "net8.0")
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "Base", deps[0].Name)

	rc, size, err := p.CopyContent(ctx, id)
	require.NoError(t, err)
	rc.Close()
	assert.Greater(t, size, int64(0))

	g, err := p.GetRuntimeGraph(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, g)

	_, err = p.GetDependencies(ctx, library.NewIdentity("Sample", versioning.MustParse("9.0.0")), "net8.0")
	assert.Error(t, err)

	assert.Equal(t, root, p.Name())
	assert.Equal(t, KindLocal, p.Kind())
}

func TestProjectProvider(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	testutil.WriteFile(t, ws, "App/project.toml", `
name = "App"
version = "1.0.0"
[[dependencies]]
id = "Lib"
type = "project"
[frameworks."net8.0"]
`)
	testutil.WriteFile(t, ws, "Lib/project.toml", `
name = "Lib"
version = "2.0.0"
[[dependencies]]
id = "Sample"
range = "1.0.0"
[frameworks."net8.0"]
[runtimes."rid-A"]
`)
	app, err := project.LoadDir(filepath.Join(ws, "App"))
	require.NoError(t, err)
	resolver := project.NewDirResolver(app.Dir)
	resolver.Add(app, false)
	p := NewProject(resolver)

	id, ok, err := p.FindLibrary(ctx, rng(t, "Lib", "", library.TypeProject), "net8.0")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, library.TypeProject, id.Type)
	assert.Equal(t, "Lib", id.Name)

	_, ok, _ = p.FindLibrary(ctx, rng(t, "Lib", "", library.TypePackage), "net8.0")
	assert.False(t, ok, "package constraint is not satisfied by a project")

	_, ok, _ = p.FindLibrary(ctx, rng(t, "Lib", "[3.0,)", library.TypeAny), "net8.0")
	assert.False(t, ok, "version out of range")

	deps, err := p.GetDependencies(ctx, id, "net8.0")
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "Sample", deps[0].Name)

	g, err := p.GetRuntimeGraph(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"rid-A"}, g.IDs())

	_, _, err = p.CopyContent(ctx, id)
	assert.Error(t, err)
}

func TestChainFirstProviderWins(t *testing.T) {
	ctx := context.Background()
	first := testutil.NewMemoryFeed(t, "first", testutil.NewPackage("Sample", "1.0.0"))
	second := testutil.NewMemoryFeed(t, "second", testutil.NewPackage("Sample", "2.0.0"), testutil.NewPackage("Only", "1.0.0"))

	chain := NewChain(nil, nil, []Provider{NewRemote(first, nil), NewRemote(second, nil)})

	m, err := chain.FindLibrary(ctx, rng(t, "Sample", "1.0.0", library.TypeAny), "net8.0")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "1.0.0", m.Identity.Version.String(), "first source wins even with a higher version later")
	assert.Equal(t, "memory://first", m.Provider.Name())

	m, err = chain.FindLibrary(ctx, rng(t, "Only", "1.0.0", library.TypeAny), "net8.0")
	require.NoError(t, err)
	assert.Equal(t, "memory://second", m.Provider.Name())

	m, err = chain.FindLibrary(ctx, rng(t, "Missing", "1.0.0", library.TypeAny), "net8.0")
	require.NoError(t, err)
	assert.Nil(t, m)

	assert.Len(t, chain.Remote(), 2)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = chain.FindLibrary(cancelled, rng(t, "Sample", "1.0.0", library.TypeAny), "net8.0")
	assert.ErrorIs(t, err, context.Canceled)
}
