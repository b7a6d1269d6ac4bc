package project

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/pkgrestore/pkg/errors"
	"github.com/matzehuels/pkgrestore/pkg/library"
)

// WorkspaceFileName is the workspace file looked up in a solution directory.
const WorkspaceFileName = "workspace.toml"

// Workspace lists the projects restored together.
type Workspace struct {
	Dir string
	// Projects are absolute project directories in file order.
	Projects []string
	// External are projects that may be referenced but are not restored.
	External []string
}

type workspaceFile struct {
	Projects []string `toml:"projects" validate:"required,min=1"`
	External []string `toml:"external"`
}

// LoadWorkspace reads dir/workspace.toml. Relative paths are resolved
// against dir.
func LoadWorkspace(dir string) (*Workspace, error) {
	path := filepath.Join(dir, WorkspaceFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileNotFound, err, "read workspace %s", path)
	}
	var f workspaceFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidProject, err, "decode %s", path)
	}
	if err := validate.Struct(f); err != nil {
		return nil, errors.New(errors.ErrCodeInvalidProject, "%s: %s", path, formatValidationError(err))
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	ws := &Workspace{Dir: abs}
	for _, p := range f.Projects {
		ws.Projects = append(ws.Projects, resolvePath(abs, p))
	}
	for _, p := range f.External {
		ws.External = append(ws.External, resolvePath(abs, p))
	}
	return ws, nil
}

// IsWorkspace reports whether dir holds a workspace file.
func IsWorkspace(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, WorkspaceFileName))
	return err == nil
}

func resolvePath(base, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}

// Resolver finds projects by name.
type Resolver interface {
	// Resolve returns the project named name and whether it is external.
	Resolve(name string) (p *Project, external bool, ok bool)
}

// DirResolver resolves projects that live as sibling directories of a base
// project, plus any explicitly registered projects. Loaded projects are
// memoized for the resolver's lifetime.
type DirResolver struct {
	searchDirs []string

	mu       sync.Mutex
	byName   map[string]*Project
	external map[string]bool
	misses   map[string]bool
}

// NewDirResolver searches the parent of each of dirs for project directories.
func NewDirResolver(dirs ...string) *DirResolver {
	r := &DirResolver{
		byName:   make(map[string]*Project),
		external: make(map[string]bool),
		misses:   make(map[string]bool),
	}
	for _, d := range dirs {
		r.searchDirs = append(r.searchDirs, filepath.Dir(d))
	}
	return r
}

// Add registers a loaded project. External projects resolve with type
// ExternalProject.
func (r *DirResolver) Add(p *Project, external bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(p.Name)
	r.byName[key] = p
	r.external[key] = external
}

// Resolve implements Resolver.
func (r *DirResolver) Resolve(name string) (*Project, bool, bool) {
	key := strings.ToLower(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byName[key]; ok {
		return p, r.external[key], true
	}
	if r.misses[key] {
		return nil, false, false
	}
	for _, dir := range r.searchDirs {
		p, err := LoadDir(filepath.Join(dir, name))
		if err != nil || !strings.EqualFold(p.Name, name) {
			continue
		}
		r.byName[key] = p
		return p, false, true
	}
	r.misses[key] = true
	return nil, false, false
}

// TypeOf returns the library type a resolved project carries.
func TypeOf(external bool) library.Type {
	if external {
		return library.TypeExternalProject
	}
	return library.TypeProject
}
