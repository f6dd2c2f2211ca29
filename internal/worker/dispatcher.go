package worker

import "container/list"

// dispatcher pulls submitted jobs off the shared queue and hands them to pool
// workers. Jobs are grouped by file so one dataset with a burst of requests
// cannot starve the others: each ready file serves one job per round.
type dispatcher struct {
	jobQueue chan Job
	pool     *jobChannelPool

	pending map[string][]Job
	ready   *list.List
	slots   map[string]*list.Element
}

func newDispatcher(queueSize int, pool *jobChannelPool) *dispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &dispatcher{
		jobQueue: make(chan Job, queueSize),
		pool:     pool,
		pending:  make(map[string][]Job),
		ready:    list.New(),
		slots:    make(map[string]*list.Element),
	}
}

func (d *dispatcher) Run() {
	go d.loop()
}

func (d *dispatcher) loop() {
	for {
		if d.ready.Len() == 0 {
			job, ok := <-d.jobQueue
			if !ok {
				return
			}
			d.enqueue(job)
		}
		d.drainQueue()
		d.dispatchNext()
	}
}

// drainQueue moves every already-queued job into the per-file structures
// without blocking.
func (d *dispatcher) drainQueue() {
	for {
		select {
		case job, ok := <-d.jobQueue:
			if !ok {
				return
			}
			d.enqueue(job)
		default:
			return
		}
	}
}

func (d *dispatcher) enqueue(job Job) {
	key := job.req.FileID
	d.pending[key] = append(d.pending[key], job)
	if _, ok := d.slots[key]; !ok {
		d.slots[key] = d.ready.PushBack(key)
	}
}

// dispatchNext serves one job for the file at the front of the round-robin
// ring, then rotates it to the back if it still has work queued.
func (d *dispatcher) dispatchNext() {
	front := d.ready.Front()
	if front == nil {
		return
	}
	key := front.Value.(string)
	queue := d.pending[key]
	job := queue[0]
	queue = queue[1:]

	if len(queue) == 0 {
		delete(d.pending, key)
		d.ready.Remove(front)
		delete(d.slots, key)
	} else {
		d.pending[key] = queue
		d.ready.MoveToBack(front)
	}

	ch := d.pool.acquire()
	ch <- job
}
