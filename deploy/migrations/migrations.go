// Package migrations embeds the SQL schema for every supported dialect.
package migrations

import "embed"

// Files holds one directory per dialect (mysql/, sqlite/) with ordered
// NNNN_name.sql files.
//
//go:embed mysql/*.sql sqlite/*.sql
var Files embed.FS
