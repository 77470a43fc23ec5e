// Package migrations embeds the SQL migration sets for the events journal
// and the projections database.
package migrations

import "embed"

//go:embed events/*.sql
var EventsFS embed.FS

//go:embed projections/*.sql
var ProjectionsFS embed.FS
