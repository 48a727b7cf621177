// Package logging assembles the structured slog loggers used across the
// crucible server.
//
// It centralizes level and output plumbing plus standardized field-name
// constants so every component emits data with the same shape. Prefer these
// constructors over hand-rolled slog setup.
package logging
