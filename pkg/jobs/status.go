package jobs

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/canopy-network/bakerx/pkg/db"
	adminmodels "github.com/canopy-network/bakerx/pkg/db/models/admin"
	"github.com/canopy-network/bakerx/pkg/metrics"
	"github.com/canopy-network/bakerx/pkg/rpc"
	"github.com/prometheus/procfs"
	"go.uber.org/zap"
)

// ResourceProbe reports the host the daemon runs on.
type ResourceProbe func(logger *zap.Logger) adminmodels.ResourceStatus

// HostResources reads load, memory and uptime from procfs. Fields the host cannot provide
// stay nil.
func HostResources(logger *zap.Logger) adminmodels.ResourceStatus {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	out := adminmodels.ResourceStatus{
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  mem.HeapAlloc,
	}

	fs, err := procfs.NewDefaultFS()
	if err != nil {
		logger.Debug("procfs unavailable", zap.Error(err))
		return out
	}
	if load, err := fs.LoadAvg(); err == nil {
		out.AvgCPULoad = &load.Load1
	} else {
		logger.Warn("unable to gather CPU load", zap.Error(err))
	}
	if info, err := fs.Meminfo(); err == nil && info.MemFree != nil && info.MemTotal != nil {
		free, total := *info.MemFree*1024, *info.MemTotal*1024
		out.MemFree, out.MemTotal = &free, &total
	} else {
		logger.Warn("unable to gather memory usage", zap.Error(err))
	}
	if stat, err := fs.Stat(); err == nil && stat.BootTime > 0 {
		uptime := uint64(time.Now().Unix()) - stat.BootTime
		out.UptimeSecs = &uptime
	} else {
		logger.Warn("unable to gather uptime", zap.Error(err))
	}
	return out
}

// StatusChecker records one status report and drops all but the most recent maxReports.
type StatusChecker struct {
	logger     *zap.Logger
	node       rpc.Client
	store      db.StatusStore
	metrics    *metrics.Metrics
	maxReports int
	probe      ResourceProbe
	now        func() time.Time
}

func NewStatusChecker(logger *zap.Logger, node rpc.Client, store db.StatusStore, maxReports int, m *metrics.Metrics) *StatusChecker {
	return &StatusChecker{
		logger:     logger.Named("status_checker"),
		node:       node,
		store:      store,
		metrics:    m,
		maxReports: maxReports,
		probe:      HostResources,
		now:        time.Now,
	}
}

// Run is the scheduler.Job of the checker.
func (s *StatusChecker) Run(ctx context.Context) error {
	status := adminmodels.Status{
		Resources:   s.probe(s.logger),
		TimestampMs: s.now().UnixMilli(),
	}
	node, err := s.nodeStatus(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.logger.Warn("node status unavailable", zap.Error(err))
	} else {
		status.Node = node
	}

	if err := s.store.ReportStatus(ctx, status); err != nil {
		return escalate(fmt.Errorf("report status: %w", err))
	}
	s.metrics.StatusReported()

	removed, err := s.store.GarbageCollectStatuses(ctx, s.maxReports)
	if err != nil {
		return escalate(fmt.Errorf("garbage collect statuses: %w", err))
	}
	if removed > 0 {
		s.logger.Debug("old status reports removed", zap.Int64("removed", removed))
	}
	return nil
}

func (s *StatusChecker) nodeStatus(ctx context.Context) (*adminmodels.NodeStatus, error) {
	info, err := s.node.NodeInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("node info: %w", err)
	}
	uptime, err := s.node.NodeUptime(ctx)
	if err != nil {
		return nil, fmt.Errorf("node uptime: %w", err)
	}
	peers, err := s.node.PeerStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("peer stats: %w", err)
	}
	return &adminmodels.NodeStatus{
		NodeID:               info.NodeID,
		BakerID:              info.BakerID,
		IsBakerCommittee:     info.IsBakerCommittee,
		IsFinalizerCommittee: info.IsFinalizerCommittee,
		UptimeMs:             uptime,
		PeerType:             info.PeerType,
		PeerAverageLatency:   peers.AvgLatency,
		PeerCount:            peers.PeerCount,
	}, nil
}
