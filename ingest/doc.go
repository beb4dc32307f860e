// Package ingest uploads profile reports to a Pyroscope-compatible ingestion
// endpoint.
//
// Each call to [Client.Ingest] encodes one [capture.Report] in the folded
// format and issues exactly one request:
//
//	POST {endpoint}/ingest?name=<series>&from=<unix>&until=<unix>&format=folded&sampleRate=<hz>&spyName=<spy>
//	Content-Type: binary/octet-stream
//
// The from/until range is the [Window] containing the report's start time.
// Windows are [WindowWidth] wide, which is also the interval at which the
// agent uploads; the ingestion service expects both to be 10 seconds.
//
// Reports that encode to an empty payload are skipped without any network
// I/O. Failed uploads are not retried.
package ingest
