// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package dataprocessor

// Machine is one monitored host as sent to the processing operations.
type Machine struct {
	ID      string          `json:"id"`
	Name    string          `json:"name,omitempty"`
	Status  string          `json:"status,omitempty"` // online, offline, warning or critical
	Metrics *MachineMetrics `json:"metrics,omitempty"`
	Stats   *MachineStats   `json:"stats,omitempty"`
	Alerts  []Alert         `json:"alerts,omitempty"`
}

// MachineMetrics holds resource usage in percent, network in Mbit/s.
type MachineMetrics struct {
	CPU     float64 `json:"cpu"`
	Memory  float64 `json:"memory"`
	Disk    float64 `json:"disk"`
	Network float64 `json:"network"`
	Uptime  float64 `json:"uptime"`
}

// MachineStats holds service counters. Zero fields are left out so the
// operations fall back to their defaults.
type MachineStats struct {
	Availability float64 `json:"availability,omitempty"`
	ResponseTime float64 `json:"responseTime,omitempty"`
	Throughput   float64 `json:"throughput,omitempty"`
	Errors       float64 `json:"errors,omitempty"`
	Requests     float64 `json:"requests,omitempty"`
}

// Alert is raised by a machine. An empty severity is treated as info.
type Alert struct {
	ID           string `json:"id,omitempty"`
	Type         string `json:"type,omitempty"`
	Severity     string `json:"severity,omitempty"`
	Message      string `json:"message,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
	Acknowledged bool   `json:"acknowledged,omitempty"`
}

// Summary counts machines by status.
type Summary struct {
	Total    int `json:"total"`
	Online   int `json:"online"`
	Offline  int `json:"offline"`
	Warning  int `json:"warning"`
	Critical int `json:"critical"`
}

// MetricStat aggregates one metric across machines. Trend keeps the last ten samples.
type MetricStat struct {
	Avg   float64   `json:"avg"`
	Min   float64   `json:"min"`
	Max   float64   `json:"max"`
	Trend []float64 `json:"trend"`
}

// UptimeStat aggregates uptime across machines.
type UptimeStat struct {
	Avg   float64 `json:"avg"`
	Total float64 `json:"total"`
}

// Metrics is the output of CalculateMetrics.
type Metrics struct {
	CPU     MetricStat `json:"cpu"`
	Memory  MetricStat `json:"memory"`
	Disk    MetricStat `json:"disk"`
	Network MetricStat `json:"network"`
	Uptime  UptimeStat `json:"uptime"`
}

// AlertItem is an alert annotated with the machine that raised it.
type AlertItem struct {
	ID           string `json:"id"`
	MachineID    string `json:"machineId"`
	MachineName  string `json:"machineName"`
	Type         string `json:"type"`
	Severity     string `json:"severity"`
	Message      string `json:"message"`
	Timestamp    string `json:"timestamp"`
	Acknowledged bool   `json:"acknowledged"`
}

// Alerts is the output of ProcessAlerts. Each bucket is sorted newest first.
type Alerts struct {
	Critical []AlertItem `json:"critical"`
	Warning  []AlertItem `json:"warning"`
	Info     []AlertItem `json:"info"`
	Total    int         `json:"total"`
}

// Performance is the output of CalculatePerformance.
type Performance struct {
	HealthScore  float64 `json:"healthScore"`
	Efficiency   float64 `json:"efficiency"`
	Availability float64 `json:"availability"`
	ResponseTime float64 `json:"responseTime"`
	Throughput   float64 `json:"throughput"`
	ErrorRate    float64 `json:"errorRate"` // Percent of requests
}

// MachineReport is the output of ProcessMachineData. Sections left out by
// ProcessOptions are nil.
type MachineReport struct {
	Summary     Summary      `json:"summary"`
	Metrics     *Metrics     `json:"metrics"`
	Alerts      *Alerts      `json:"alerts"`
	Performance *Performance `json:"performance"`
	ProcessTime float64      `json:"processTime"` // Milliseconds
}

// ProcessOptions selects the sections computed by ProcessMachineData.
type ProcessOptions struct {
	SkipMetrics     bool
	SkipAlerts      bool
	SkipPerformance bool
}

func (o ProcessOptions) params() map[string]interface{} {
	return map[string]interface{}{
		"includeMetrics":     !o.SkipMetrics,
		"includeAlerts":      !o.SkipAlerts,
		"includePerformance": !o.SkipPerformance,
	}
}

// Chart types understood by ProcessChartData.
const (
	ChartLine = "line"
	ChartBar  = "bar"
	ChartPie  = "pie"
	ChartArea = "area"
)

// ChartMetric is one series of a line, area or bar chart.
type ChartMetric struct {
	Key             string `json:"key"`
	Label           string `json:"label,omitempty"`
	Color           string `json:"color,omitempty"`
	BackgroundColor string `json:"backgroundColor,omitempty"`
	BorderColor     string `json:"borderColor,omitempty"`
}

// ChartConfig describes the chart to build.
//
// Line and area charts bucket points by their timestamp according to TimeRange
// (1h, 24h, 7d, 30d; anything else buckets by day) and reduce each bucket with
// Aggregation (avg, sum, min, max). Bar and pie charts group points by the
// GroupBy field, points without it falling into "Other". A pie chart counts the
// points of each group, or sums Metric when set.
type ChartConfig struct {
	Type        string        `json:"type"`
	TimeRange   string        `json:"timeRange,omitempty"`
	Aggregation string        `json:"aggregation,omitempty"`
	GroupBy     string        `json:"groupBy,omitempty"`
	Metric      string        `json:"metric,omitempty"`
	Metrics     []ChartMetric `json:"metrics,omitempty"`
}

func (c ChartConfig) params() map[string]interface{} {
	params := map[string]interface{}{"type": c.Type}
	if c.TimeRange != "" {
		params["timeRange"] = c.TimeRange
	}
	if c.Aggregation != "" {
		params["aggregation"] = c.Aggregation
	}
	if c.GroupBy != "" {
		params["groupBy"] = c.GroupBy
	}
	if c.Metric != "" {
		params["metric"] = c.Metric
	}
	if len(c.Metrics) > 0 {
		params["metrics"] = c.Metrics
	}
	return params
}

// Dataset is one series of a chart.
type Dataset struct {
	Label           string      `json:"label,omitempty"`
	Data            []float64   `json:"data"`
	BorderColor     string      `json:"borderColor,omitempty"`
	BackgroundColor interface{} `json:"backgroundColor,omitempty"` // A color, or one color per label for pie charts
	BorderWidth     int         `json:"borderWidth,omitempty"`
	Tension         float64     `json:"tension,omitempty"`
	Fill            bool        `json:"fill,omitempty"`
}

// Chart is the output of ProcessChartData.
type Chart struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}
