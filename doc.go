// Package chonky synchronizes large binary assets between a workspace
// directory and a content-addressed object store.
//
// A CHONKY manifest names the store and records, for every tracked path,
// the SHA-256 digest of its current content (the HEAD). Objects are
// immutable and addressed by digest, so identical files share one object
// and a sync only transfers what the workspace does not hold yet.
//
// Basic usage:
//
//	c, _ := chonky.Open(ctx, "game/CHONKY")
//	defer c.Close()
//
//	// What would sync or submit do?
//	report, _ := c.Status(ctx)
//	for _, e := range report.Entries {
//	    fmt.Println(e.Status, e.Path)
//	}
//
//	// Pull remote changes, keeping local edits.
//	c.Sync(ctx, false)
//
//	// Publish local changes and advance the manifest.
//	c.Submit(ctx)
//
//	// Throw local changes away.
//	c.Revert(ctx)
//
// A manifest looks like:
//
//	[config]
//	type = s3
//	bucket = assets
//	root = projects/game
//
//	[HEAD]
//	cats/milo.jpg = 3a7bd3e2360a3d29eea436fcfb7e44c735d117c42d1c1835420b6b9942dd4f1b
//
// Supported store types are local, s3 and oci. Objects fetched from a
// remote store are kept in a local cache (see WithCacheDir).
package chonky
