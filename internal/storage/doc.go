// Package storage persists job run history behind a pluggable Store.
// The queue's pending set is persisted separately (see internal/persist);
// this package only records terminal outcomes for inspection.
package storage
