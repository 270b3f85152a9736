// Package migrations embeds the Postgres schema migrations.
package migrations

import (
	"embed"
	"io/fs"
	"os"
)

//go:embed *.sql
var FS embed.FS

// Source returns the embedded migrations, or the files in dir when an
// override directory is configured.
func Source(dir string) fs.FS {
	if dir == "" {
		return FS
	}
	return os.DirFS(dir)
}
