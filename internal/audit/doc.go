// Package audit fans security alerts out to an external sink without
// holding up the request that raised them.
//
// The engine writes every security event synchronously to its audit log
// first; only then are alert-worthy events queued here. Loss of an alert
// therefore never loses the event, and the dispatcher counts drops and
// failed deliveries for metrics.
package audit
