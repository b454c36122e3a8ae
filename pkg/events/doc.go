/*
Package events provides the mission executor's event bus: an in-memory,
non-blocking pub/sub broker that broadcasts mission/stage/step/fetch/loop/
data/webhook/resilience events to interested subscribers (loggers, metrics
collectors, a debug stepping UI, an MCP server — all external to this
package).

Publish never blocks on a slow subscriber; full subscriber buffers drop the
event rather than stall the mission. There is no replay, no persistence, and
no topic filtering — subscribers filter by Event.Type themselves.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for ev := range sub {
			if ev.Type == events.StepError {
				log.Error(ev.Message)
			}
		}
	}()

	broker.Publish(&events.Event{Type: events.MissionStart, Mission: "sync-users"})
*/
package events
