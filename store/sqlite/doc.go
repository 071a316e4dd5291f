// Package sqlite implements store.Store on modernc.org/sqlite through
// database/sql. Suitable for embedded deployments, CLI tools and
// single-host setups where several processes share one database file.
//
// Connections are limited to one per Store and transactions begin
// IMMEDIATE, so a claim holds the write lock from its SELECT through its
// UPDATE. Timestamps are stored as Unix microseconds.
//
//	s, err := sqlite.New(ctx, "/var/lib/app/queue.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package sqlite
