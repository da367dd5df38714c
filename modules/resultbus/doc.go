// Package resultbus fans recognition results out to any number of
// subscribers without ever blocking the publisher.
//
// Subscribers choose how they fall behind:
//
//   - Subscribe hands in a buffered channel. When it is full the new
//     result is dropped for that subscriber (DropNew).
//   - SubscribeLatest returns a Receiver that only ever holds the newest
//     result (DropOld). Receive blocks until one is available.
//
// Counters obey a conservation rule per subscriber: every Publish seen by
// a subscriber is counted exactly once, as sent or dropped.
//
//	bus := resultbus.New[tracker.Annotation]()
//	defer bus.Close()
//
//	ch := make(chan tracker.Annotation, 16)
//	bus.Subscribe("mqtt", ch)
//	bus.Publish(annotation)
package resultbus
