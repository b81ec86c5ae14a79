package persistence

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

// OpenPostgreSQL opens a database/sql pool on the lib/pq driver and checks
// connectivity. Plain SQL readers such as the wallpaper catalog use it.
func OpenPostgreSQL(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}
