// Package migration defines the revision records that make up a migration
// graph, the ledger entries that record which of them are applied, and the
// error taxonomy shared by the graph, resolver, ledger and executor packages.
//
// Records are parsed from SQL files with a comment header followed by an
// "up" and a "down" section:
//
//	-- Revision ID: 3f1c2a
//	-- Revises: 9ab01e
//	-- Message: add users table
//	-- Author: dana
//	-- Tags: schema, users
//	-- Timestamp: 2024-11-19 00:55:16
//
//	-- UP
//	CREATE TABLE users (id INTEGER PRIMARY KEY);
//
//	-- DOWN
//	DROP TABLE users;
//
// A record with several comma separated parents in "Revises" is a merge
// record. Parsing is strict: unknown or repeated header keys and missing
// sections are reported as *ParseError instead of being ignored.
//
// Example usage:
//
//	records, err := migration.Scan("migrations")
//	if err != nil {
//		log.Fatalf("scan failed: %v", err)
//	}
package migration
