// Package store provides SQLite access to data download stores.
//
// Three kinds of store pass through this package:
//   - Source fragments: one per controller session, read-only input
//   - The merged store: all fragments combined by the merge engine
//   - The user directory store: fb_users, keyed by numeric user ID
//
// # Device Table Layout
//
// Every device table carries a SampleInfo_source_timestamp column
// (nanoseconds since the Unix epoch) and an rti_json_sample column holding
// the sample as JSON. Queries extract fields with json_extract and return
// one typed record per query shape.
//
// Table names contain '@' (e.g. "IncidentAll@0"), so every identifier built
// into SQL goes through QuoteIdent.
//
// # Attach Model
//
// ATTACH is per-connection and cannot run inside a transaction. Callers that
// attach stores pin a connection with Store.Conn and use Attach, CopyTable
// and Detach on it.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
