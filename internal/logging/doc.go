// Package logging configures structured slog output for hybridrag.
//
// Logs are JSON, written to a size-rotated file under ~/.hybridrag/logs/ and
// optionally mirrored to stderr. In MCP mode stderr is never used because
// stdout and stderr carry the JSON-RPC stream.
package logging
