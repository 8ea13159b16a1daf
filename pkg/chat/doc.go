// Package chat connects the gate to a OneBot-compatible chat gateway.
//
// Bot is the outbound side: it drives the gateway's HTTP action API to post
// group messages, kick members, and look up member info. EventServer is the
// inbound side: it receives the gateway's event callbacks, decodes the group
// join/leave/message events the gate cares about, and dispatches them to the
// verification coordinator. Everything else the gateway emits (heartbeats,
// private messages) is acknowledged and discarded.
package chat
