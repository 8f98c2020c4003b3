// Package store holds the database access primitives shared by the SQL
// engine backend: the DBTX abstraction over connections and transactions,
// and the transaction runner that every multi-statement engine call goes
// through.
package store
