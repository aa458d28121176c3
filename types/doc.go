// Package types defines the shared data model of the taskflow framework:
// conversation messages, tool schemas and results, token accounting, and
// the structured error taxonomy.
//
// It deliberately depends on no other taskflow package so that every layer
// can import it without cycles.
package types
