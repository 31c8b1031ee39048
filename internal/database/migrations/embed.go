// Package migrations embeds the schema for each supported database.
package migrations

import "embed"

// FS contains the postgres/ and sqlite/ migration directories.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
