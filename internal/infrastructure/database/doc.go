// Package database provides the SQLite store behind the sqlite credential backend.
//
// This package manages:
//   - Database connection with WAL mode and busy timeout
//   - Idempotent schema creation for the credential resource table
//   - Connection lifecycle and health checks
//
// Security Considerations:
//   - The database holds private key material: file permissions are 0600
//   - All queries use parameterised statements
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.EnsureSchema(ctx); err != nil {
//	    log.Fatal(err)
//	}
package database
