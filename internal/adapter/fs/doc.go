// Package fs is the filesystem documentation adapter: it serves markdown
// and YAML documents from a local directory tree. It is the reference
// adapter implementation and the one integration tests run against, since
// it needs no external service.
package fs
