// Package migrations embeds the teacher-service schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
