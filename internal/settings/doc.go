// Package settings is the node's persistent key/value store.
//
// Values are strings grouped by namespace and kept in the SQLite database
// opened by package database. The update partition keeps the boot slot
// here and the connectivity layer keeps the last link credentials that
// reached Connected.
package settings
