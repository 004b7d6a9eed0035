package schema

// StoreStatus describes the run store for the db status command.
type StoreStatus struct {
	Backend      string              `json:"backend"`
	Connected    bool                `json:"connected"`
	TotalRuns    int64               `json:"totalRuns"`
	RunsByStatus map[RunStatus]int64 `json:"runsByStatus"`
	TableSizes   map[string]int64    `json:"tableSizes"`
}
