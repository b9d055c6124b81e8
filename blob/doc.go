// Package blob is the source side of a package download: it splits blob
// storage URLs, derives package names from them, and defines the chunked
// Client contract the stream engine pulls from.
//
// Two clients are provided. HTTPClient fetches over HTTP(S) with retries on
// connect failures and 5xx responses; MemStore serves in-memory blobs with
// configurable chunking and fault injection for tests and the simulator.
package blob
