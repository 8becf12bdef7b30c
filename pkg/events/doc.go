/*
Package events provides an in-memory broker for chain lifecycle
notifications: started, finished, interrupted, a timetable published,
or an exchange's outcome. It mirrors original_source's observer-style
timetable notification without making the processor's dispatch loop
depend on a listener being present.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for ev := range sub {
			switch ev.Type {
			case events.EventChainFinished:
				log.Info().Str("chain_id", ev.ChainID).Msg("chain finished")
			case events.EventExchangeFailed:
				log.Warn().Str("chain_id", ev.ChainID).Msg("exchange failed")
			}
		}
	}()

# Delivery guarantees

Publish never blocks on a slow subscriber: a full subscriber buffer
drops that event for that subscriber only. This trades guaranteed
delivery for keeping a chain controller's worker goroutine from ever
stalling on an observer. Treat subscribers as best-effort (dashboards,
metrics, logs), not as a source of truth - InvokeStats and the
finish/exchange callbacks remain the authoritative path for a caller
that needs to know an outcome.

# Integration points

  - pkg/chaincontroller: publishes ChainStarted when its worker loop
    starts, ChainFinished/ChainInterrupted when it exits, and
    ExchangeSucceeded/ExchangeFailed from InvokeExchange, when a Broker
    has been attached via SetEventSink.
  - pkg/processor: may subscribe for logging or an external status feed
    without sitting on the command dispatch path itself.
*/
package events
