// Package copr provides a scope-based client for a Copr-compatible
// build farm JSON API (api_3).
//
// Usage:
//
//	client, err := copr.New(baseURL, token, copr.WithTimeout(30*time.Second))
//	records, err := client.Project("@fedora-llvm-team", "llvm-snapshots-big-merge-20260822").Monitor(ctx)
//	err = client.CancelBuild(ctx, 9552105)
//
// All mutating calls require a token; read calls work anonymously
// against public projects.
package copr
