// Package ingestion moves fund pages from the web into the chunk store.
//
// A Pipeline run detects new source URLs, skips the run when the store is
// still fresh, scrapes each URL, then loads, chunks and upserts the scraped
// documents. Every state change is published to a StatusSink as it
// happens, so pollers see per-URL progress while a run is active.
//
// A single URL failing to scrape never aborts a run. Embedding and storage
// failures abort the ingestion stage and are recorded on the run status;
// chunks already written stay written.
//
// Runs are serialized: Run, Scrape and Ingest take the same lock, so at most
// one executes against the store at a time.
package ingestion
