// Package migrations embeds the goose SQL migrations for the carpool schema
// and its realtime NOTIFY triggers.
package migrations

import "embed"

// FS holds every *.sql migration. Pass it to goose.NewProvider.
//
//go:embed *.sql
var FS embed.FS
