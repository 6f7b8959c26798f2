// Package sinstance identifies instances, clusters and realms.
//
// Every running Sandpolis process is an instance.
// An [InstanceID] is generated on first start and reused afterwards;
// its last four bits record which [InstanceType] roles the instance plays,
// so a peer's role is known from its ID alone.
package sinstance
