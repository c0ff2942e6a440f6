// Package crawler implements the single-domain mirroring engine: URL
// normalization, asset classification, the shared crawl state, fetch-mode
// policy, the summary sink, and the orchestrator that drives the frontier.
//
// Concrete fetchers, extractors, and stores live in sibling packages and
// satisfy the interfaces declared in interfaces.go; cmd wires them together.
package crawler
