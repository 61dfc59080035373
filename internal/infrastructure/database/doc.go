// Package database provides the SQLite handle used by the command journal.
//
// Open configures WAL mode and a busy timeout and restricts the file to
// 0600. Migrate applies versioned SQL files from any fs.FS, normally the
// embedded set in the top-level migrations package:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
//	    return err
//	}
//
// Migrations are named YYYYMMDD_HHMMSS_name.up.sql with an optional
// matching .down.sql.
package database
