// Package crawler implements one crawl pass: search result pages are turned into
// candidate links, links into raw invite links, and invite links into verified
// catalog entries. Every stage is an injected interface so the pass can run
// against fakes in tests.
package crawler
