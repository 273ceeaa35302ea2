// Package logqueue buffers log records on disk between the application that
// writes them and a shipper that delivers them elsewhere.
//
// A Producer appends records to a durable queue (see package queue/sqlite);
// a Shipper sends the oldest record and acknowledges it once sent. Records
// survive restarts and are delivered at least once. A queue file belongs to a
// single process.
package logqueue
