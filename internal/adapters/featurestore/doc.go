// Package featurestore reads and writes per-vessel movement feature files
//
// Design choices:
// - One gzip file per vessel, one JSON row per line, row[0] the unix
//   timestamp. Streaming with bufio.Scanner keeps memory flat for long
//   histories.
// - A malformed line is fatal, not skipped: feature files are produced by
//   our own pipeline, so corruption means the run must not continue.
// - An mmsis.txt manifest pins the vessel universe; without one the store
//   falls back to listing the directory
package featurestore
