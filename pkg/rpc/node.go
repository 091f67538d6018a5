package rpc

import (
	"context"
	"net/http"
)

// NodeInfo is the response of /v1/nodeInfo.
type NodeInfo struct {
	NodeID               *string `json:"nodeId"`
	BakerID              *uint64 `json:"bakerId"`
	IsBakerCommittee     bool    `json:"isBakerCommittee"`
	IsFinalizerCommittee bool    `json:"isFinalizerCommittee"`
	PeerType             string  `json:"peerType"`
}

func (c *HTTPClient) NodeInfo(ctx context.Context) (*NodeInfo, error) {
	var out NodeInfo
	if err := c.doJSON(ctx, http.MethodPost, nodeInfoPath, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NodeUptime returns the node uptime in milliseconds.
func (c *HTTPClient) NodeUptime(ctx context.Context) (uint64, error) {
	var out struct {
		UptimeMs uint64 `json:"uptimeMs"`
	}
	if err := c.doJSON(ctx, http.MethodPost, nodeUptimePath, struct{}{}, &out); err != nil {
		return 0, err
	}
	return out.UptimeMs, nil
}

// PeerStats is the response of /v1/peerStats.
type PeerStats struct {
	AvgLatency float64 `json:"avgLatency"`
	AvgBpsIn   uint64  `json:"avgBpsIn"`
	AvgBpsOut  uint64  `json:"avgBpsOut"`
	PeerCount  uint64  `json:"peerCount"`
}

func (c *HTTPClient) PeerStats(ctx context.Context) (*PeerStats, error) {
	var out PeerStats
	if err := c.doJSON(ctx, http.MethodPost, peerStatsPath, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
