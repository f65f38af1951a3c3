// Package lifecycle holds the state machine shared by long running
// components (the broker, workers) plus the reconnect backoff they use.
//
//	m := lifecycle.NewManager(logger)
//	if err := m.TransitionTo(lifecycle.StateStarting, "start"); err != nil {
//	    return err
//	}
//	m.Go(func() { loop(ctx) })
//	...
//	m.Cancel()
//	err := m.WaitWithTimeout(5 * time.Second)
//
// # State Machine
//
// Valid state transitions:
//   - Stopped -> Starting
//   - Starting -> Running, Crashed
//   - Running -> Stopping, Crashed
//   - Stopping -> Stopped, Crashed
//   - Crashed -> Starting
package lifecycle
