// Package store archives desk state to SQLite.
//
// # Overview
//
// SQLiteArchive is a write-behind mirror of the in-memory desk: it
// implements desk.Archive and records conversations, messages, agents,
// and transfers so history survives restarts. The in-memory state stays
// authoritative; the archive is read for history queries and offline
// inspection, never for routing decisions.
//
// # Database
//
// The database uses the modernc.org/sqlite pure-Go driver with WAL
// journaling. Tables:
//
//   - conversations: one row per conversation, upserted on every change
//   - messages: append-only, keyed by message id
//   - agents: one row per agent; credential hashes never land here
//   - transfers: append-only audit of hand-offs, keyed by audit message id
//
// Schema creation runs on open and is idempotent.
//
// # Usage
//
//	archive, err := store.NewSQLiteArchive("desk.db")
//	if err != nil { ... }
//	defer archive.Close()
//
//	service := desk.New(agents, convs, log, engine, archive, publisher, logger)
//
// Read helpers (ConversationHistory, GetConversation,
// TransfersForConversation) serve the admin tooling.
package store
