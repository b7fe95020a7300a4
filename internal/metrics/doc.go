// Package metrics records release run and step metrics.
//
// Components receive a Recorder through dependency injection. NoopRecorder
// is the default and does nothing; PrometheusRecorder backs the real
// implementation. Because forkpack is a one-shot CLI there is no scrape
// endpoint: when a textfile path is configured the registry is written in
// node-exporter textfile format once the run finishes.
package metrics
