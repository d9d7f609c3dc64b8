// Package auditlog provides durable, append-only implementations of
// authcore.AuditLog.
//
// Record returns only after the event is committed. None of the stores
// exposes an update or delete path, and the SQL schemas install triggers
// that abort any UPDATE or DELETE issued against the table directly.
package auditlog
