// Package pkg provides the core libraries of pkgrestore.
//
// # Overview
//
// pkgrestore restores the package dependencies of a project: it resolves
// every declared range to a concrete package for each target framework and
// runtime, installs the packages into a shared install root and records the
// result in a lock file. The pkg directory is organized into four areas:
//
//  1. Model: [library], [versioning], [rid], [project]
//  2. Resolution: [provider], [graph], [restore]
//  3. Storage and transport: [repository], [install], [archive], [feed],
//     [feedserver], [cache], [httputil], [lockfile]
//  4. Support: [errors], [observability], [buildinfo]
//
// # Architecture
//
// The data flow of one restore:
//
//	project.toml
//	     ↓
//	[provider] chain (projects → install root → feeds)
//	     ↓
//	[graph] Walker (one graph per framework, then per runtime)
//	     ↓
//	[graph] conflict resolution (nearest wins, downgrades reported)
//	     ↓
//	[restore] Flatten (install items, missing ranges)
//	     ↓
//	[install] Installer (locked, crash-safe, concurrent)
//	     ↓
//	[lockfile] project.lock.json
//
// # Quick Start
//
//	p, err := project.LoadDir("src/App")
//	if err != nil {
//	    return err
//	}
//	res, err := restore.New(restore.Options{MaxConcurrency: 8}).Restore(ctx, restore.Request{
//	    Project:     p,
//	    Sources:     []string{"https://feed.example.com/v1"},
//	    PackagesDir: "/var/cache/packages",
//	})
//	if err != nil {
//	    return err
//	}
//	if !res.Success {
//	    // res.Missing and res.Err describe what went wrong.
//	}
package pkg
