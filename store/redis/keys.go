package redis

// DefaultKeyPrefix namespaces every key written by the store.
const DefaultKeyPrefix = "queuesched:"

// jobKey returns the Hash key for a row: <prefix>job:{id}
func (s *Store) jobKey(id string) string { return s.prefix + "job:" + id }

// scheduledKey is the ZSET of unowned scheduled ids scored by run_after.
func (s *Store) scheduledKey() string { return s.prefix + "scheduled" }

// processingKey is the ZSET of owned ids scored by updated_at.
func (s *Store) processingKey() string { return s.prefix + "processing" }

// erroredKey is the Set of errored ids.
func (s *Store) erroredKey() string { return s.prefix + "errored" }

// ownedKey returns the Set of ids owned by a worker.
func (s *Store) ownedKey(worker string) string { return s.prefix + "owned:" + worker }

// workersKey is the ZSET of worker ids scored by registration time.
func (s *Store) workersKey() string { return s.prefix + "workers" }

// workerKey returns the Hash key for a worker: <prefix>worker:{id}
func (s *Store) workerKey(id string) string { return s.prefix + "worker:" + id }
