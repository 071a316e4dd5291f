// Package redis implements store.Store on Redis with go-redis/v9.
//
// Rows are Hashes; state indexes are Sorted Sets:
//
//	<prefix>job:{id}          Hash of row fields, timestamps in Unix microseconds
//	<prefix>scheduled         ZSET of unowned scheduled ids, score run_after or created_at
//	<prefix>processing        ZSET of owned ids, score updated_at
//	<prefix>errored           SET of errored ids
//	<prefix>owned:{worker}    SET of ids owned by a worker
//	<prefix>workers           ZSET of worker ids, score registered_at
//	<prefix>worker:{id}       Hash of worker fields
//
// Every mutation that touches more than one key runs as a Lua script, so
// claims are atomic and concurrent claimers never share a row. Scripts
// derive keys from the prefix; in Redis Cluster use a hash-tagged prefix
// such as "{queuesched}:" so all keys land in one slot.
//
// The caller owns the client lifecycle:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
