// Package memory adapts wazero guest memory and cabi_realloc to the
// Memory and Allocator interfaces.
package memory
