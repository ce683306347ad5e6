// Package commands defines the qiyashashctl CLI: a small demonstration
// harness over the protocol packages, not a production messaging client.
//
// Commands
//
//   - identity generate/fingerprint/rotate/safety-number   Manage the local identity
//   - register                                              Publish a pre-key bundle
//   - session start                                         Run X3DH against a peer
//   - message send/recv                                     Ratcheted message exchange
//   - fragment split/join                                   Reed-Solomon shard a file
//
// # Implementation
//
// There is no live relay or DHT here (see SPEC_FULL.md's Non-goals): peers
// meet through a shared --relay-dir on the local filesystem, standing in for
// a directory service and a mailbox transport, and each identity's own
// state lives under --home/identities/<username> via a collab.Persistence
// backend. A real deployment would swap collab.Directory/Transport for
// network clients without touching the protocol packages.
package commands
