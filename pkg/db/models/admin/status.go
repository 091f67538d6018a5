package admin

// ResourceStatus describes the host the daemon runs on. Nil fields could not be gathered.
type ResourceStatus struct {
	AvgCPULoad *float64 `json:"avg_cpu_load"`
	MemFree    *uint64  `json:"mem_free"`
	MemTotal   *uint64  `json:"mem_total"`
	UptimeSecs *uint64  `json:"uptime_secs"`
	Goroutines int      `json:"goroutines"`
	HeapAlloc  uint64   `json:"heap_alloc"`
}

// NodeStatus is the node's self-reported state.
type NodeStatus struct {
	NodeID               *string `json:"node_id"`
	BakerID              *uint64 `json:"baker_id"`
	IsBakerCommittee     bool    `json:"is_baker_committee"`
	IsFinalizerCommittee bool    `json:"is_finalizer_committee"`
	UptimeMs             uint64  `json:"uptime_ms"`
	PeerType             string  `json:"peer_type"`
	PeerAverageLatency   float64 `json:"peer_average_latency"`
	PeerCount            uint64  `json:"peer_count"`
}

// Status is one report written by the status checker.
type Status struct {
	ID          int64          `json:"id"`
	Resources   ResourceStatus `json:"resources"`
	Node        *NodeStatus    `json:"node"`
	TimestampMs int64          `json:"timestamp_ms"`
}
