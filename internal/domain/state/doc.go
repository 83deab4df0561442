// Package state is the durable record of what an installation changed.
//
// A Store holds two kinds of data inside one namespace (one managed
// instance):
//
//   - backups: the value a setting held before this installation changed
//     it, or the "did not exist" sentinel. Backups are first-write-wins and
//     keep the order in which they were taken; uninstall consumes them in
//     reverse of that order.
//   - values: general key/value data handed from one step to another or to
//     a later uninstall run, for example the generated server identifier.
//
// Every mutation is written to a temporary file, synced and renamed over
// the namespace file before the call returns, so an installation and a
// later uninstall may run in different processes.
//
// FileBackups extends a Store with whole-file backups of configuration
// files the installer edits.
package state
