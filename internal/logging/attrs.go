package logging

import "log/slog"

// Standardized structured logging keys. Using these constants keeps field
// names consistent across components.
const (
	// FieldComponent names the subsystem emitting the log line.
	FieldComponent = "component"
	// FieldRecordID identifies the record a log line concerns.
	FieldRecordID = "record_id"
	// FieldRecordType is the record's discriminator string.
	FieldRecordType = "record_type"
	// FieldManager is a compute manager's wire name.
	FieldManager = "manager"
	// FieldCount is a generic item count for sweeps and bulk operations.
	FieldCount = "count"
)

// String wraps slog.String for call-site brevity.
func String(key, value string) slog.Attr { return slog.String(key, value) }

// Int64 wraps slog.Int64.
func Int64(key string, value int64) slog.Attr { return slog.Int64(key, value) }

// Int wraps slog.Int.
func Int(key string, value int) slog.Attr { return slog.Int(key, value) }

// Bool wraps slog.Bool.
func Bool(key string, value bool) slog.Attr { return slog.Bool(key, value) }

// Error renders an error under the conventional "error" key. A nil error
// produces an empty string rather than a panic.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
