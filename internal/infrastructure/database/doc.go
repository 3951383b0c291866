// Package database opens the node's SQLite database and applies schema
// migrations.
//
// The database holds small persistent state: the boot slot and stored link
// credentials (see package settings). It runs with a single connection,
// optional WAL mode and a busy timeout. The file is created with mode 0600.
//
// Migrations are read from an fs.FS, normally the embedded
// migrations.FS:
//
//	db, err := database.Open(cfg)
//	if err != nil {
//	    return err
//	}
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
