package resultbus

// DropRate returns dropped / (sent + dropped) across all subscribers, or 0
// when nothing was offered.
func DropRate(stats Stats) float64 {
	total := stats.TotalSent + stats.TotalDropped
	if total == 0 {
		return 0.0
	}
	return float64(stats.TotalDropped) / float64(total)
}

// SubscriberDropRate is DropRate for one subscriber; 0 if it is unknown.
func SubscriberDropRate(stats Stats, id string) float64 {
	sub, ok := stats.Subscribers[id]
	if !ok {
		return 0.0
	}
	total := sub.Sent + sub.Dropped
	if total == 0 {
		return 0.0
	}
	return float64(sub.Dropped) / float64(total)
}
