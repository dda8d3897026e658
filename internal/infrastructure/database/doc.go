// Package database provides the SQLite store behind the toy registry, the
// operator accounts and the command audit log.
//
// This package manages:
//   - Connection setup with WAL mode and a busy timeout
//   - Schema migrations read from an fs.FS (the migrations package embeds them)
//   - Timestamp formatting shared by every repository
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is chmod 0600
//   - Operator passwords are stored only as argon2id hashes
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns are nullable or carry a default, and
// each .up.sql file ships with a .down.sql file.
package database
