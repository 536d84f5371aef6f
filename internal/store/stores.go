package store

// Backend names the storage engine selected for this process.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// SelectBackend picks Postgres when a DSN is configured and falls back to the
// standalone SQLite file otherwise.
func SelectBackend(postgresDSN string) Backend {
	if postgresDSN != "" {
		return BackendPostgres
	}
	return BackendSQLite
}
