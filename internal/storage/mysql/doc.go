// Package mysql persists chat turn history, either in a local append-only log
// for development or in MySQL with embedded schema migrations.
package mysql
