package sconn

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports metrics for a changing set of connections.
//
// The set is read through the source function on every scrape,
// so connections need not be registered individually.
type Collector struct {
	source func() []*Connection

	connections     *prometheus.Desc
	readBytes       *prometheus.Desc
	writeBytes      *prometheus.Desc
	readThroughput  *prometheus.Desc
	writeThroughput *prometheus.Desc
	streams         *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector over the connections returned by source.
// Metric names are prefixed with namespace when it is not empty.
func NewCollector(namespace string, source func() []*Connection) *Collector {
	perConn := []string{"remote", "remote_instance"}
	return &Collector{
		source: source,

		connections: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "connection", "count"),
			"Number of instance connections by state",
			[]string{"state"}, nil,
		),
		readBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "connection", "read_bytes_total"),
			"Envelope bytes read from the connection",
			perConn, nil,
		),
		writeBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "connection", "write_bytes_total"),
			"Envelope bytes written to the connection",
			perConn, nil,
		),
		readThroughput: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "connection", "read_bytes_per_second"),
			"Read throughput over the last sample interval",
			perConn, nil,
		),
		writeThroughput: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "connection", "write_bytes_per_second"),
			"Write throughput over the last sample interval",
			perConn, nil,
		),
		streams: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "connection", "streams"),
			"Live streams on the connection",
			perConn, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connections
	ch <- c.readBytes
	ch <- c.writeBytes
	ch <- c.readThroughput
	ch <- c.writeThroughput
	ch <- c.streams
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	byState := map[State]int{
		Connecting: 0,
		Open:       0,
		Closing:    0,
		Closed:     0,
	}

	for _, conn := range c.source() {
		d := conn.Data()
		byState[d.State]++

		if d.State != Open {
			// Per-connection series only for live links,
			// so closed connections do not linger in scrapes.
			continue
		}

		remoteInstance := ""
		if !d.RemoteInstanceID.IsZero() {
			remoteInstance = d.RemoteInstanceID.String()
		}
		labels := []string{d.RemoteAddr, remoteInstance}

		ch <- prometheus.MustNewConstMetric(c.readBytes, prometheus.CounterValue, float64(d.ReadBytes), labels...)
		ch <- prometheus.MustNewConstMetric(c.writeBytes, prometheus.CounterValue, float64(d.WriteBytes), labels...)
		ch <- prometheus.MustNewConstMetric(c.readThroughput, prometheus.GaugeValue, float64(d.ReadThroughput), labels...)
		ch <- prometheus.MustNewConstMetric(c.writeThroughput, prometheus.GaugeValue, float64(d.WriteThroughput), labels...)
		ch <- prometheus.MustNewConstMetric(c.streams, prometheus.GaugeValue, float64(conn.Streams()), labels...)
	}

	for s, n := range byState {
		ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(n), s.String())
	}
}
