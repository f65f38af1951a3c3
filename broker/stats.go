package broker

import "encoding/hex"

// Stats is a point-in-time view of the broker.
type Stats struct {
	State             string `json:"state"`
	ReadyWorkers      int    `json:"ready_workers"`
	BusyWorkers       int    `json:"busy_workers"`
	PendingRedelivery int    `json:"pending_redelivery"`
	WorkersSeen       uint64 `json:"workers_seen"`
	RequestsReceived  uint64 `json:"requests_received"`
	RepliesSent       uint64 `json:"replies_sent"`
	Dropped           uint64 `json:"dropped"`
	Redelivered       uint64 `json:"redelivered"`
}

// WorkerInfo lists worker identities in hex.
type WorkerInfo struct {
	Ready []string `json:"ready"`
	Busy  []string `json:"busy"`
}

func (b *Broker) Stats() Stats {
	b.mu.Lock()
	ready, busy, pending := b.queue.Len(), len(b.inflight), len(b.redeliver)
	b.mu.Unlock()

	return Stats{
		State:             b.Status().String(),
		ReadyWorkers:      ready,
		BusyWorkers:       busy,
		PendingRedelivery: pending,
		WorkersSeen:       b.stats.workersSeen.Load(),
		RequestsReceived:  b.stats.received.Load(),
		RepliesSent:       b.stats.replied.Load(),
		Dropped:           b.stats.dropped.Load(),
		Redelivered:       b.stats.redelivered.Load(),
	}
}

// Workers returns ready workers in dispatch order and busy workers.
func (b *Broker) Workers() WorkerInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	info := WorkerInfo{Ready: []string{}, Busy: []string{}}
	for _, id := range b.queue.Snapshot() {
		info.Ready = append(info.Ready, hex.EncodeToString(id))
	}
	for id := range b.inflight {
		info.Busy = append(info.Busy, hex.EncodeToString([]byte(id)))
	}
	return info
}
