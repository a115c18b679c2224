// Package runstore keeps AgentRun records addressable by id.
//
// InMemoryStore is an unbounded map suited for tests and the CLI. Cache is a
// bounded store whose entries expire after a TTL, used by long running
// servers so finished runs stay inspectable for a while without growing
// memory forever.
package runstore
