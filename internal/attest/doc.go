// Package attest runs asynchronous attestation: callers enqueue data, and a
// pool of workers submits the digests to the proof authority, retrying
// transient failures through the queue. Memory, Redis and RabbitMQ queues are
// provided.
package attest
