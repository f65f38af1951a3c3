package broker

import (
	"context"
	"errors"

	"mini-broker/log"
	"mini-broker/message"
	"mini-broker/router"
)

// readFrontend admits client requests at the configured rate. It holds at
// most one request while no worker is ready; the frontend router holds at
// most one more per connected client.
func (b *Broker) readFrontend(ctx context.Context) {
	for {
		ev, err := b.frontend.Next(ctx)
		if err != nil {
			return
		}
		if ev.Gone != nil {
			b.logger.Debug("client disconnected", log.Hex("client", ev.Gone))
			continue
		}
		if err := b.limiter.Wait(ctx); err != nil {
			return
		}
		select {
		case b.frontendCh <- ev.Msg:
		case <-ctx.Done():
			return
		}
	}
}

// readBackend forwards worker messages and disconnects in the order the
// router delivered them.
func (b *Broker) readBackend(ctx context.Context) {
	for {
		ev, err := b.backend.Next(ctx)
		if err != nil {
			return
		}
		select {
		case b.backendCh <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// dispatch is the only goroutine that routes messages.
func (b *Broker) dispatch(ctx context.Context) {
	for {
		// Redelivered requests go before anything new from the frontend.
		if b.dispatchRedeliveries() {
			continue
		}

		var frontendCh chan message.Multipart
		if b.readyWorkers() > 0 {
			frontendCh = b.frontendCh
		}

		select {
		case <-ctx.Done():
			return
		case ev := <-b.backendCh:
			if ev.Gone != nil {
				b.handleWorkerGone(ev.Gone)
			} else {
				b.handleBackend(ev.Msg)
			}
		case m := <-frontendCh:
			b.handleFrontend(m)
		}
	}
}

func (b *Broker) readyWorkers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.Len()
}

// handleFrontend validates [client, "", body] and hands it to a worker.
func (b *Broker) handleFrontend(m message.Multipart) {
	b.logger.Debug("Received", log.String("from", "frontend"), log.String("message", m.String()))
	b.stats.received.Add(1)

	if m.Len() > 3 {
		b.drop("frontend", message.ErrTooManyFrames, m)
		return
	}
	env, err := message.PopEnvelope(&m)
	if err != nil {
		b.drop("frontend", err, m)
		return
	}
	b.assign(&job{client: env.Addr, body: env.Body})
}

// handleBackend processes [worker, "", READY] and [worker, "", client, result].
func (b *Broker) handleBackend(m message.Multipart) {
	b.logger.Debug("Received", log.String("from", "backend"), log.String("message", m.String()))

	env, err := message.PopEnvelope(&m)
	if err != nil {
		b.drop("backend", err, m)
		return
	}
	worker := env.Addr

	b.mu.Lock()
	j, busy := b.inflight[string(worker)]
	delete(b.inflight, string(worker))
	b.queue.Push(worker)
	b.mu.Unlock()

	if env.IsReady() {
		b.stats.workersSeen.Add(1)
		b.logger.Debug("New worker was found", log.Hex("worker", worker))
		if busy {
			// The worker started over without answering.
			b.requeue(j, "worker sent READY with a request in flight")
		}
		return
	}

	result, err := m.PopFront()
	if err != nil {
		b.drop("backend", err, m)
		return
	}
	reply := message.Envelope{Addr: env.Body, Empty: []byte{}, Body: result}.Multipart()
	if err := b.frontend.Send(reply); err != nil {
		b.stats.dropped.Add(1)
		if errors.Is(err, router.ErrUnroutable) {
			b.logger.Warn("client gone, reply dropped", log.Hex("client", env.Body))
			return
		}
		b.logger.Error("reply failed", log.Hex("client", env.Body), log.Err(err))
		return
	}
	b.stats.replied.Add(1)
}

// assign sends j to the least recently ready worker. Workers that vanished
// since they were queued are skipped; with none left the job waits for
// redelivery.
func (b *Broker) assign(j *job) {
	for {
		b.mu.Lock()
		worker, ok := b.queue.Pop()
		if !ok {
			b.redeliver = append([]*job{j}, b.redeliver...)
			b.mu.Unlock()
			return
		}
		b.inflight[string(worker)] = j
		b.mu.Unlock()

		b.logger.Debug("Work with", log.Hex("worker", worker), log.Hex("client", j.client))
		out := message.NewMultipart(worker, []byte{}, j.client, j.body)
		err := b.backend.Send(out)
		if err == nil {
			return
		}

		b.mu.Lock()
		delete(b.inflight, string(worker))
		b.mu.Unlock()
		b.logger.Warn("worker unreachable", log.Hex("worker", worker), log.Err(err))
	}
}

// dispatchRedeliveries assigns one pending request if a worker is ready.
func (b *Broker) dispatchRedeliveries() bool {
	b.mu.Lock()
	if len(b.redeliver) == 0 || b.queue.Len() == 0 {
		b.mu.Unlock()
		return false
	}
	j := b.redeliver[0]
	b.redeliver = b.redeliver[1:]
	b.mu.Unlock()

	b.assign(j)
	return true
}

// handleWorkerGone forgets the worker and re-dispatches its request, if any.
func (b *Broker) handleWorkerGone(worker []byte) {
	b.mu.Lock()
	b.queue.Remove(worker)
	j, busy := b.inflight[string(worker)]
	delete(b.inflight, string(worker))
	b.mu.Unlock()

	b.logger.Info("worker disconnected", log.Hex("worker", worker), log.Bool("busy", busy))
	if busy {
		b.requeue(j, "worker disconnected")
	}
}

// requeue puts an unanswered request back at the front of the line, or
// drops it once MaxRedeliveries is used up.
func (b *Broker) requeue(j *job, reason string) {
	if j.attempts >= b.cfg.MaxRedeliveries {
		b.stats.dropped.Add(1)
		b.logger.Warn("request dropped",
			log.String("reason", reason),
			log.Hex("client", j.client),
			log.Int("attempts", j.attempts),
		)
		return
	}
	j.attempts++
	b.stats.redelivered.Add(1)
	b.logger.Info("request redelivered", log.String("reason", reason), log.Hex("client", j.client))

	b.mu.Lock()
	b.redeliver = append([]*job{j}, b.redeliver...)
	b.mu.Unlock()
}

func (b *Broker) drop(side string, err error, rest message.Multipart) {
	b.stats.dropped.Add(1)
	b.logger.Warn("malformed message dropped",
		log.String("socket", side),
		log.Err(err),
		log.String("rest", rest.String()),
	)
}
