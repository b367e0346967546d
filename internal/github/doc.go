// Package github provides a scope-based client for the subset of the
// GitHub REST API the snapshot tooling needs: issue search, issue and
// label maintenance, and workflow dispatch.
//
// Usage:
//
//	client, err := github.New(baseURL, token)
//	issue, err := client.Repo("fedora-llvm-team", "llvm-snapshots").Issues().Create(ctx, github.NewIssue{Title: "..."})
package github
