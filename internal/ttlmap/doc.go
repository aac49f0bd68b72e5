// Package ttlmap provides sharded concurrent maps with time-based
// expiration, used as the building blocks of the persistent store's cache
// tiers.
//
// Two containers are provided:
//
//   - Map: key -> (value, expireAt), the by-ID and by-name cache shape.
//   - MultiMap: key -> (set of values, expireAt), the relation cache shape
//     (group membership, cluster access grants, allowed applications).
//
// Both shard by key hash with one mutex per shard, so operations on distinct
// keys proceed independently while operations on the same key serialize.
// Expiration is lazy: a read past the entry's deadline treats the key as
// absent and removes it. In the MultiMap the deadline belongs to the key as
// a whole, not to individual values; refreshing it extends every value under
// that key. Neither container supports iteration, by design: listings go to
// the authoritative database index, never to the cache.
package ttlmap
