//go:build postgres

package storage

func newPostgresStore(dsn string) (Store, error) {
	return NewPostgresStore(dsn), nil
}
