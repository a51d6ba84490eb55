// Package logging wraps log/slog with the conventions the engine relies on:
// standardized field names, context enrichment with session and file
// identifiers, and console or JSON output selected from configuration.
package logging
