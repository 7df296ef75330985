/*
Package types defines the data model shared across this module: the
replicated log entry, and the endpoint a Raft vote is cast for.

These are plain value types; the binary encoding lives in pkg/storelog,
not here, so this package stays free of any on-disk format details.
*/
package types
