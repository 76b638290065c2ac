// Package docstore is the document-store engine: tables with composite
// keys and global secondary indexes over a single bbolt file, CRUD with
// condition expressions, key-condition queries and filtered scans,
// batch and transactional writes, and a per-table change stream.
//
// Every write updates the base row and all index rows in one storage
// transaction. Expression parsing and evaluation live in the expression
// subpackage.
package docstore
