// Package storage is the only boundary to persistent state.
//
// It owns:
//   - The notify-rule gateway (candidate loading, execution timestamps)
//   - Task-data resolution (category/item/progress details for payloads)
//   - Minimal row helpers used by the surrounding CRUD layer and tests
//
// Instants are stored as Unix milliseconds (UTC); rule times of day as
// "HH:MM:SS" text; weekday masks as digit strings ("13" = Mon+Wed).
package storage
