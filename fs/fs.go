// Package appfs embeds the files the binaries ship with: email templates,
// default database migrations and the common passwords list.
package appfs

import "embed"

//go:embed all:templates migrations assets
var FS embed.FS

const (
	EmailTemplatesDir   = "templates/email"
	MigrationsDir       = "migrations"
	CommonPasswordsPath = "assets/common-passwords.txt.gz"
)
