package rpc

// Node query paths. Every call is a POST with a JSON body.
const (
	consensusStatusPath = "/v1/consensusStatus"
	blocksAtHeightPath  = "/v1/blocksAtHeight"
	blockInfoPath       = "/v1/blockInfo"
	blockSummaryPath    = "/v1/blockSummary"
	accountInfoPath     = "/v1/accountInfo"
	birkParametersPath  = "/v1/birkParameters"

	nodeInfoPath   = "/v1/nodeInfo"
	nodeUptimePath = "/v1/nodeUptime"
	peerStatsPath  = "/v1/peerStats"
)
