// Package mongo implements store.Store on MongoDB with the official v2
// driver.
//
// Rows live in the queuesched_jobs collection keyed by job id; workers live
// in queuesched_workers. Claims use FindOneAndUpdate with a pre-image
// return, one document at a time, so two claimers can never take the same
// row. Timestamps are stored with millisecond precision.
//
//	client, _ := mongo.Connect(options.Client().ApplyURI(uri))
//	s := mongostore.New(client.Database("app"))
//	if err := s.Migrate(ctx); err != nil { ... }
package mongo
