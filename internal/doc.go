// Package internal holds helpers shared across the module that are not part
// of the public API: random identifier and one-time artifact generation.
package internal
