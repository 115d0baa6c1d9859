package notification

import "embed"

// migrationsFS は埋め込まれたマイグレーションSQLファイル。
// ファイル名形式は pkg/migration の規約（000001_description.up.sql）に従う。
//
//go:embed migrations/*.sql
var migrationsFS embed.FS
