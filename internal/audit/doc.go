// Package audit provides the durable destinations for transmission log
// entries: daily JSON-lines files, SQLite, a Redis stream and a Kafka
// topic, plus the local disk buffer that holds entries while a
// destination is unavailable.
package audit
