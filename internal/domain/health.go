package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// LedgerStats is returned by GET /v1/admin/stats.
type LedgerStats struct {
	OperationsSucceeded float64            `json:"operationsSucceeded"`
	OperationsRejected  float64            `json:"operationsRejected"`
	OperationsFailed    float64            `json:"operationsFailed"`
	RejectionsByKind    map[string]float64 `json:"rejectionsByKind"`
	InterestDistributed float64            `json:"interestDistributed"`
	InterestToReserve   float64            `json:"interestToReserve"`
	RenfoulementLevied  float64            `json:"renfoulementLevied"`
	ExternalErrors      float64            `json:"externalErrors"`
	PeriodCacheHitRate  float64            `json:"periodCacheHitRate"`
}

// ============================================================
// Generic API Response wrappers
// ============================================================

// ListResponse wraps paginated list results.
type ListResponse[T any] struct {
	Data     []T  `json:"data"`
	Total    int  `json:"total"`
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasMore  bool `json:"has_more"`
}
