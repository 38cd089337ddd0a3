// Package disklru implements a bounded, persistent, least-recently-used
// cache of fixed-arity value tuples on the local filesystem.
//
// Each cache entry maps a string key to a fixed number of value files
// ("clean files"). Edits stage their bytes in per-index dirty files and
// publish them atomically via rename at commit. An append-only text journal
// records every state change and lets the cache reconstruct its in-memory
// LRU index on [Open]; the journal is periodically compacted once enough
// redundant records accumulate.
//
// A cache directory is owned by a single process. Callers obtain the cache
// via [Open], read through [Snapshot] handles returned by [Cache.Get], and
// write through [Editor] handles returned by [Cache.Edit]. Snapshots hold
// their own open file handles, so the bytes captured at Get time stay
// readable even after the entry is overwritten or evicted.
//
// Eviction is least-recently-used by total byte size. The byte budget is a
// soft limit: Size may transiently exceed MaxSize between operations, but a
// background worker drains the excess and [Cache.Flush] waits for it.
//
// All methods are safe for concurrent use by multiple goroutines.
package disklru
