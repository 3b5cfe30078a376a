// Package cycle runs the crawl cycle and schedules it on a fixed cadence.
//
// A cycle crawls, merges the fresh entries into the catalog carried over from
// the previous cycle, saves the result (retrying until it sticks), mirrors a
// snapshot, republishes the search index and announces a summary. Only the
// crawl and the save can end a cycle early, and only through cancellation;
// mirror, publish and notify failures are reported but never roll back the
// saved catalog.
package cycle
