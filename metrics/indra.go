package metrics

// Pre-defined metrics for an Indra's Network node. All metrics live in
// DefaultRegistry so they are globally accessible without passing a
// registry around (same shape as the teacher's former chain/txpool/p2p
// metric set, retargeted to the router, channel directory, document
// engine, and artifact layer).

var (
	// ---- Packet router metrics (§4.3) ----

	// PacketsInCustody tracks packets currently held awaiting relay.
	PacketsInCustody = DefaultRegistry.Gauge("router.custody")
	// RelayHops counts successful forwards to a mutual relay.
	RelayHops = DefaultRegistry.Counter("router.relay_hops")
	// PacketsDelivered counts packets whose back-propagated ACK reached
	// the source.
	PacketsDelivered = DefaultRegistry.Counter("router.delivered")
	// PacketsDropped counts packets discarded (TTL exhaustion, storage
	// pressure, decryption failure).
	PacketsDropped = DefaultRegistry.Counter("router.dropped")
	// AckLatencyMs records source-observed delivery latency in
	// milliseconds.
	AckLatencyMs = DefaultRegistry.Histogram("router.ack_latency_ms")
	// DirectNeighbors tracks the current count of directly reachable
	// peers.
	DirectNeighbors = DefaultRegistry.Gauge("router.direct_neighbors")

	// ---- Channel directory metrics (§4.2) ----

	// ChannelsActive tracks the number of channels this node belongs to.
	ChannelsActive = DefaultRegistry.Gauge("channel.active")
	// EventsAppended counts events appended to a channel log, both
	// locally originated and accepted from remote peers.
	EventsAppended = DefaultRegistry.Counter("channel.events_appended")
	// EventsRejected counts events dropped on authentication failure.
	EventsRejected = DefaultRegistry.Counter("channel.events_rejected")

	// ---- Document engine metrics (§4.4) ----

	// SyncRoundTrips counts completed SyncOffer/SyncReply exchanges.
	SyncRoundTrips = DefaultRegistry.Counter("document.sync_round_trips")
	// RemoteChangesApplied counts apply_remote calls that produced a
	// non-no-op merge.
	RemoteChangesApplied = DefaultRegistry.Counter("document.remote_changes_applied")

	// ---- Artifact layer metrics (§4.5) ----

	// ActiveGrants tracks the number of access grants held across all
	// artifacts in the store. It moves on grant, revoke, recall and
	// transfer; an expired Timed grant stays counted until it is revoked
	// or recalled.
	ActiveGrants = DefaultRegistry.Gauge("artifact.active_grants")
	// LeavesStored counts distinct content-addressed leaves stored.
	LeavesStored = DefaultRegistry.Counter("artifact.leaves_stored")
	// LeafDedups counts store_leaf calls that matched an existing hash.
	LeafDedups = DefaultRegistry.Counter("artifact.leaf_dedups")
)
