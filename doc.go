// Package zkgroup lets a fleet of cooperating processes discover each
// other's addresses and agree on a single leader through a shared
// hierarchical coordination store with ZooKeeper semantics.
//
// Each process registers itself as an ephemeral sequential node under a
// per-service group path, observes membership through one-shot children
// watches, and participates in a lowest-sequence leader election. The
// Guardian drives the whole lifecycle and is the only surface a host needs:
//
//	g, err := zkgroup.NewGuardian(settings, store, logger)
//	...
//	g.Start()
//	targets := g.Lookup(ctx, "billing")
//	leader := g.IsLeader(ctx)
//	g.Stop(ctx)
//
// Lookup and IsLeader never surface store errors; an unreachable store
// degrades to empty results and false while the Guardian keeps retrying in
// the background.
package zkgroup
