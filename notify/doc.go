// Package notify delivers security alerts and email one-time codes.
//
// Publisher sends both over RabbitMQ to durable queues consumed by the
// mail and incident workers. LogSink and WriterOTPSender are for local
// development.
package notify
