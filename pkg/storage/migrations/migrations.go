// Package migrations embeds the goose migration set so cmd/orchestratord
// can drive schema changes without a separate file tree on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
