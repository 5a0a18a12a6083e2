/*
Package resilience provides a circuit breaker for operations that fail in
streaks, such as launching browser processes on an overloaded host.

After Threshold consecutive failures the breaker opens and rejects calls
with ErrCircuitOpen. Once Cooldown has passed it lets a limited number of
probe calls through (half-open); enough successful probes close it again,
a failed probe reopens it.

	breaker := resilience.New("browser-launch", resilience.Settings{
		Threshold: 5,
		Cooldown:  30 * time.Second,
	})
	err := breaker.Do(func() error {
		return launch(ctx)
	})

Context cancellation does not count as a failure unless IsFailure says so.

	Closed --[failures]-> Open --[cooldown]-> Half-Open --[successes]-> Closed
	                                            |
	                                        [failure]
	                                            v
	                                          Open
*/
package resilience
