// Package database provides the PostgreSQL connection pool used for
// dead-letter storage.
package database
