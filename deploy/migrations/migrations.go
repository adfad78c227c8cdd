// Package migrations embeds the MySQL schema for chat turn history.
package migrations

import "embed"

// Files 暴露按版本号命名的 SQL 迁移文件，由 storage/mysql 在启动时执行。
//
//go:embed *.sql
var Files embed.FS
