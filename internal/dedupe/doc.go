// Package dedupe drops invoke ids the gateway redelivers after a reconnect,
// bounding memory with a TTL window and a maximum tracked-key count.
package dedupe
