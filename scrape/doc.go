// Package scrape fetches fund pages and stores them as JSON records for the
// ingestion pipeline.
//
// HTTPScraper is deliberately shallow: it keeps the page title and visible
// text and leaves structured field extraction to the chunker and the model.
// Requests are paced with a token bucket so a large URL list does not hammer
// the source site.
package scrape
