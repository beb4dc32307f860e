// Package agent runs continuous profiling inside the host process.
//
// An [Agent] owns a [capture.Handle] and, while running, uploads a report
// every [ingest.WindowWidth] from a single background goroutine. Stopping the
// agent performs one final capture and upload (the flush) and waits for the
// goroutine to exit:
//
//	cfg := agent.NewConfig()
//	cfg.Endpoint = "http://localhost:4040"
//	cfg.ApplicationName = "checkout"
//	cfg.Tags = map[string]string{"env": "prod"}
//
//	a, err := cfg.NewAgent(agent.WithLogger(logger))
//	err = a.Start()
//	// ...
//	err = a.Stop()
//
// Uploads are best effort. A failed cycle is logged, counted in [Metrics],
// and published as an [Event] to subscribers, but does not stop the agent.
// [Agent.Stop] returns the error of the final flush, or the error that ended
// the run early: a capture that failed to initialize ([ErrCaptureInit]) or
// became unusable ([ErrCaptureSnapshot]).
//
// An agent can be started again after it has been stopped.
package agent
