package models

import "time"

type ScanRunsResponse struct {
	BatchID string    `json:"batch_id"`
	Runs    []ScanRun `json:"runs"`
	Total   int       `json:"total"`
}

type ServiceStatusResponse struct {
	Status          string    `json:"status"`
	Database        bool      `json:"database"`
	ActiveWorkers   int       `json:"active_workers"`
	QueueLength     int       `json:"queue_length"`
	TotalProcessed  int       `json:"total_processed"`
	DegradedResults int       `json:"degraded_results"`
	FailedPublishes int       `json:"failed_publishes"`
	Uptime          string    `json:"uptime"`
	Timestamp       time.Time `json:"timestamp"`
}
