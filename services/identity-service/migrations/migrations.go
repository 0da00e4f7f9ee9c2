// Package migrations embeds the identity-service schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
