// Package api contains the wire DTOs and the service layer between the HTTP
// surface and storage. Handlers stay thin; validation and shaping live here
// so the CLI and tests can drive the same operations without a server.
package api
