// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing environment specs and small build
// configurations. These helpers are intentionally minimal. They are not
// intended for production usage.
package testutil
