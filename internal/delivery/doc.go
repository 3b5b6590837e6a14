// Package delivery fans published notification events out to every live
// per-device channel registered for a user.
//
// The registry is the one structure shared freely between request handlers
// (one per streaming client) and the scheduler loop. Channels are FIFO,
// multi-producer, single-consumer, and terminated by an idempotent close
// sentinel: a consumer that observes the sentinel must still call
// Disconnect to release its registry slot.
package delivery
