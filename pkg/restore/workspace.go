package restore

import (
	"context"
	"errors"

	"github.com/matzehuels/pkgrestore/pkg/project"
)

// RestoreWorkspace restores every project of ws in file order. Workspace
// projects reference each other as projects; the workspace's external
// projects resolve as external projects. tmpl supplies the sources, install
// root and flags; Project, Resolver and LockFilePath are set per project.
//
// A project that fails to load or aborts is recorded and the remaining
// projects are still restored. The returned error joins those failures.
func (r *Restorer) RestoreWorkspace(ctx context.Context, ws *project.Workspace, tmpl Request) ([]*Result, error) {
	resolver := project.NewDirResolver()
	var projects []*project.Project
	var errs []error

	for _, dir := range ws.Projects {
		p, err := project.LoadDir(dir)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		resolver.Add(p, false)
		projects = append(projects, p)
	}
	for _, dir := range ws.External {
		p, err := project.LoadDir(dir)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		resolver.Add(p, true)
	}

	var results []*Result
	for _, p := range projects {
		if err := ctx.Err(); err != nil {
			return results, errors.Join(append(errs, err)...)
		}
		req := tmpl
		req.Project = p
		req.Resolver = resolver
		req.LockFilePath = ""
		res, err := r.Restore(ctx, req)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}
