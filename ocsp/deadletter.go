package ocsp

import (
	"time"

	"github.com/beeker1121/goque"

	"github.com/letsencrypt-style/xipki-core/log"
)

// FailedCrlJob records a per-CA CRL regeneration attempt the master
// scheduler's looper could not complete even after its in-process
// backoff. The looper's failure counter resets on restart; this does
// not, so an operator can see (and a future process can retry) work
// that was still outstanding when the instance went down.
type FailedCrlJob struct {
	CAID     int64     `json:"ca_id"`
	Err      string    `json:"err"`
	FailedAt time.Time `json:"failed_at"`
}

// DeadLetterQueue is a disk-backed FIFO of FailedCrlJob records.
type DeadLetterQueue struct {
	q   *goque.Queue
	log log.Logger
}

// OpenDeadLetterQueue opens (creating if necessary) a queue rooted at
// dataDir. The directory is exclusive to this queue.
func OpenDeadLetterQueue(dataDir string, logger log.Logger) (*DeadLetterQueue, error) {
	q, err := goque.OpenQueue(dataDir)
	if err != nil {
		return nil, err
	}
	return &DeadLetterQueue{q: q, log: logger}, nil
}

// Push persists a failed job. A Push failure is logged, not propagated —
// losing a dead-letter record is not worse than the failure it describes.
func (d *DeadLetterQueue) Push(job FailedCrlJob) {
	if _, err := d.q.EnqueueObjectAsJSON(job); err != nil {
		d.log.Warningf("ocsp: failed to persist dead-letter CRL job for CA %d: %s", job.CAID, err)
	}
}

// Pop returns the oldest pending job, or (nil, nil) if the queue is empty.
func (d *DeadLetterQueue) Pop() (*FailedCrlJob, error) {
	item, err := d.q.Dequeue()
	if err == goque.ErrEmpty {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var job FailedCrlJob
	if err := item.ToObjectFromJSON(&job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Len reports the number of jobs still pending retry.
func (d *DeadLetterQueue) Len() uint64 {
	return d.q.Length()
}

func (d *DeadLetterQueue) Close() error {
	return d.q.Close()
}
