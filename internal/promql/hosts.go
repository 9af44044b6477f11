package promql

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cvsloane/infra-dashboard/pkg/models"
)

// HostMetrics reads one host's node_exporter gauges: CPU, memory, disk,
// load averages, and uptime.
func (c *Client) HostMetrics(ctx context.Context, instance string) (*models.HostMetrics, error) {
	cpuUsage, err := c.QueryScalar(ctx, fmt.Sprintf(
		`100 - (avg by(instance) (rate(node_cpu_seconds_total{mode="idle",instance=%q}[5m])) * 100)`, instance), 0)
	if err != nil {
		return nil, err
	}
	cores, _ := c.QueryScalar(ctx, fmt.Sprintf(
		`count(node_cpu_seconds_total{mode="idle",instance=%q}) by (instance)`, instance), 0)

	memTotal, _ := c.QueryScalar(ctx, fmt.Sprintf(`node_memory_MemTotal_bytes{instance=%q}`, instance), 0)
	memAvail, _ := c.QueryScalar(ctx, fmt.Sprintf(`node_memory_MemAvailable_bytes{instance=%q}`, instance), 0)

	diskTotal, _ := c.QueryScalar(ctx, fmt.Sprintf(
		`node_filesystem_size_bytes{instance=%q,mountpoint="/",fstype!="rootfs"}`, instance), 0)
	diskAvail, _ := c.QueryScalar(ctx, fmt.Sprintf(
		`node_filesystem_avail_bytes{instance=%q,mountpoint="/",fstype!="rootfs"}`, instance), 0)

	load1, _ := c.QueryScalar(ctx, fmt.Sprintf(`node_load1{instance=%q}`, instance), 0)
	load5, _ := c.QueryScalar(ctx, fmt.Sprintf(`node_load5{instance=%q}`, instance), 0)
	load15, _ := c.QueryScalar(ctx, fmt.Sprintf(`node_load15{instance=%q}`, instance), 0)

	bootTime, _ := c.QueryScalar(ctx, fmt.Sprintf(`node_boot_time_seconds{instance=%q}`, instance), 0)

	metrics := &models.HostMetrics{
		Hostname: strings.SplitN(instance, ":", 2)[0],
		CPU: models.CPUMetrics{
			UsagePercent: math.Round(cpuUsage*10) / 10,
			Cores:        int(cores),
		},
		Memory: models.MemMetrics{
			TotalBytes:     memTotal,
			AvailableBytes: memAvail,
		},
		Disk: models.DiskMetrics{
			TotalBytes:     diskTotal,
			AvailableBytes: diskAvail,
			MountPoint:     "/",
		},
		Load: models.LoadMetrics{
			Load1:  load1,
			Load5:  load5,
			Load15: load15,
		},
		UptimeSec: float64(time.Now().Unix()) - bootTime,
	}
	if memTotal > 0 {
		metrics.Memory.UsedPercent = math.Round((1-memAvail/memTotal)*1000) / 10
	}
	if diskTotal > 0 {
		metrics.Disk.UsedPercent = math.Round((1-diskAvail/diskTotal)*1000) / 10
	}
	return metrics, nil
}

// AllHostMetrics queries the configured primary and database instances.
// Either entry is nil when the instance is unset or the query failed.
func (c *Client) AllHostMetrics(ctx context.Context, primary, database string) models.HostMetricsSet {
	set := models.HostMetricsSet{}
	if primary != "" {
		if m, err := c.HostMetrics(ctx, primary); err == nil {
			set.AppsVPS = m
		}
	}
	if database != "" {
		if m, err := c.HostMetrics(ctx, database); err == nil {
			set.DBVPS = m
		}
	}
	return set
}
