// Package notify provides the single notification context on which
// completion callbacks and recipient-change events are delivered.
//
// # Dispatcher
//
// A [Dispatcher] owns one goroutine that runs posted functions strictly in
// FIFO order. Observers that run on it never race with each other, so UI-side
// state updates can be written without extra locking. Posting never blocks:
// the queue is unbounded and workers hand results over without waiting for
// the notification context.
//
//	d := notify.NewDispatcher()
//	defer d.Close()
//
//	d.Post(func() {
//	    fmt.Println("runs on the notification context")
//	})
//
// # Recipient Subscriptions
//
// A [Hub] fans recipient-change events out to subscribers. Each caller
// subscribes once per displayed recipient and unsubscribes on teardown:
//
//	sub := hub.Subscribe(recipientID)
//	defer hub.Unsubscribe(sub)
//
//	for ev := range sub.C {
//	    refresh(ev.Recipient)
//	}
//
// Events are delivered through the dispatcher with non-blocking channel
// sends. A subscriber whose buffer is full misses the event; the drop is
// logged.
package notify
