package config

import "time"

type Limits struct {
	PageSize int

	ProgressInterval time.Duration
	ProgressStride   int64

	ConnectTimeout     time.Duration
	StatementTimeout   time.Duration
	HealthCheckTimeout time.Duration
	MetricsPushTimeout time.Duration
}

func DefaultLimits() Limits {
	return Limits{
		PageSize: 1000,

		ProgressInterval: 5 * time.Second,
		ProgressStride:   256,

		ConnectTimeout:     30 * time.Second,
		StatementTimeout:   0,
		HealthCheckTimeout: 2 * time.Second,
		MetricsPushTimeout: 10 * time.Second,
	}
}
