package worker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrQueueFull   = errors.New("mail queue is full")
	ErrPoolStopped = errors.New("mail pool is stopped")
)

// Sender delivers a single OTP email.
type Sender interface {
	SendOTP(to, otpType, code string) error
}

type job struct {
	to      string
	otpType string
	code    string
}

// Pool delivers OTP emails on a fixed set of goroutines so request handlers
// never wait on SMTP. Failed deliveries are retried with a doubling delay.
type Pool struct {
	sender      Sender
	logger      *zap.Logger
	jobs        chan job
	workerCount int
	maxAttempts int
	retryDelay  time.Duration

	mu       sync.RWMutex
	stopped  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

type Options struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	RetryDelay  time.Duration
}

func NewPool(sender Sender, opts Options, logger *zap.Logger) *Pool {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 100
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Pool{
		sender:      sender,
		logger:      logger.Named("mail"),
		jobs:        make(chan job, opts.QueueSize),
		workerCount: opts.Workers,
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
		stopChan:    make(chan struct{}),
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("started mail workers", zap.Int("workers", p.workerCount))
}

// Stop refuses new jobs, drains the queue and waits for the workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	close(p.stopChan)
	p.mu.Unlock()

	p.wg.Wait()
}

// SendOTP queues the email and returns without waiting for delivery.
func (p *Pool) SendOTP(to, otpType, code string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.jobs <- job{to: to, otpType: otpType, code: code}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for j := range p.jobs {
		p.deliver(id, j)
	}
}

func (p *Pool) deliver(id int, j job) {
	delay := p.retryDelay
	var err error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err = p.sender.SendOTP(j.to, j.otpType, j.code); err == nil {
			return
		}
		p.logger.Warn("mail delivery failed",
			zap.Int("worker", id),
			zap.String("type", j.otpType),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == p.maxAttempts {
			break
		}
		// shutting down: give up on retries, keep draining
		select {
		case <-p.stopChan:
			attempt = p.maxAttempts
		case <-time.After(delay):
			delay *= 2
		}
	}
	p.logger.Error("dropping OTP email", zap.String("type", j.otpType), zap.Error(err))
}
