// Package migrations embeds the student-service schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
