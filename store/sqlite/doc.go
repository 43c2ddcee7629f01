// Package sqlite implements store.Store on database/sql with the
// mattn/go-sqlite3 driver. Suitable for embedded deployments, CLI tools,
// and standalone applications.
//
// Open creates and owns a handle; New wraps an existing *sql.DB whose
// lifecycle the caller keeps. All timestamps are stored as unix
// milliseconds, so scheduling times survive a round trip with the
// precision the period arithmetic relies on.
package sqlite
