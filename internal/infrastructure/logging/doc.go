// Package logging provides structured logging using uber/zap.
//
// Two modes are offered:
//   - Production: JSON output for machine parsing
//   - Development: colored console output for human readability
//
// Every component of the client takes a *Logger; sub-component loggers
// are derived with Named so log lines carry their origin.
package logging
