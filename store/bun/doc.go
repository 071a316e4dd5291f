// Package bunstore implements store.Store using the Bun query builder with
// the PostgreSQL dialect. It shares the schema of store/postgres with the
// default "queuesched_" table prefix.
//
// The caller owns the *bun.DB lifecycle; bunstore never closes it:
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	s := bunstore.New(db)
//	if err := s.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package bunstore
