// Package database provides the SQLite connection shared by the Z-Wave
// mapping store and the host entity store.
//
// A single connection is used (SQLite has one writer). The file is created
// with 0600 permissions and foreign keys are enforced so entity_log rows
// follow their entity.
//
// Schema changes live in the migrations package as timestamped
// up/down pairs and are applied at startup:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
