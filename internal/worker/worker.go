package worker

type Worker struct {
	pool       *jobChannelPool
	manager    *Manager
	jobChannel chan Job
}

func newWorker(pool *jobChannelPool, manager *Manager) *Worker {
	return &Worker{
		pool:       pool,
		manager:    manager,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		for {
			w.pool.Release(w.jobChannel)
			job := <-w.jobChannel
			if job.stop {
				return
			}
			w.manager.execute(job)
		}
	}()
}
