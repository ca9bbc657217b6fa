// Package stats records time-series statistics to InfluxDB.
//
// The device engine records two kinds of series: single datapoints
// (written immediately) and rolling bucketed averages (accumulated
// in-process and written once per bucket). Both are fire-and-forget:
// a statistics outage never affects the command or status lifecycle.
//
// The Client wraps influxdb-client-go's non-blocking write API with
// connection management and async error reporting. The Collector layers
// the datapoint/average semantics on top and is the type the rest of the
// codebase consumes, via the small interfaces declared at usage sites.
//
// Usage:
//
//	client, err := stats.Connect(cfg.InfluxDB)
//	if err != nil && !errors.Is(err, stats.ErrDisabled) {
//	    return err
//	}
//	collector := stats.NewCollector(client)
//	collector.Datapoint("devices.porch-light.energy", 42)
//	collector.Average("devices.porch-light.level", 0.8, 5*time.Minute)
package stats
