// Package testutil contains helper builders and utilities used across tests
// to reduce boilerplate when constructing masks, reasoning replies and event
// sequences. They are not intended for production usage.
package testutil
