// Package redis holds the ephemeral stores: device presence and per-device
// report rate limiting. Durable state lives in Postgres; anything here can
// be lost on restart without correctness impact.
package redis
