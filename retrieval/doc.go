// Package retrieval answers questions about mutual funds from the chunk store.
//
// Each question is classified first. Questions that ask for one parameter
// across every fund ("show me the expense ratio of all funds") read every
// chunk carrying a fund name, since a nearest-neighbour search would only
// surface a handful of funds. Everything else goes through similarity search.
//
// The generator is called once per question. URLs the model writes into its
// answer are stripped from the text and folded into the citation list, which
// always starts with the normalized source URLs of the retrieved chunks.
package retrieval
