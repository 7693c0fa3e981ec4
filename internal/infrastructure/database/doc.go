// Package database provides SQLite connectivity for drivelink.
//
// It opens the database with WAL mode and a busy timeout, and applies
// forward-only SQL migrations read from an fs.FS (normally the embedded
// migrations package).
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql. Each file
// runs in its own transaction and is recorded in schema_migrations.
package database
