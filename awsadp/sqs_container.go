package awsadp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/hashicorp/go-multierror"
	"github.com/mashiike/cloudaws"
	"golang.org/x/sync/semaphore"
)

// Listener registers a handler for one queue.
// Zero values inherit the container defaults.
type Listener struct {
	// Queue is a logical queue name (resolved through the ResourceIDResolver) or a queue URL
	Queue   string
	Handler cloudaws.Handler
	// SendTo is the destination of replies returned by a cloudaws.ReplyHandler
	SendTo              string
	MaxNumberOfMessages int32
	VisibilityTimeout   int32
	WaitTimeSeconds     *int32
	// Concurrency caps the messages of this queue handled at once (default MaxNumberOfMessages)
	Concurrency int
}

// ListenerContainerConfig holds configuration for ListenerContainer
type ListenerContainerConfig struct {
	Client    SQSAPI
	Listeners []Listener

	// Executor runs pollers and handlers. When nil the container creates and owns
	// a WorkerPool sized to hold every poller plus every handler slot.
	Executor           cloudaws.TaskExecutor
	ResourceIDResolver cloudaws.ResourceIDResolver
	// ErrorHandler receives handler, receive and deletion failures (default: logs them)
	ErrorHandler cloudaws.ErrorHandler
	// ReplySender delivers replies to SendTo destinations
	ReplySender    cloudaws.MessageSender
	DeletionPolicy cloudaws.DeletionPolicy

	MaxNumberOfMessages int32
	VisibilityTimeout   int32
	WaitTimeSeconds     *int32
	// BackOffTime is the pause after a failed receive (default 10s)
	BackOffTime time.Duration
	// StopTimeout bounds how long Stop waits for pollers and handlers (default 20s)
	StopTimeout time.Duration

	Logger  *slog.Logger
	Metrics *cloudaws.Metrics
}

// registration is the runtime state of one Listener
type registration struct {
	queue       string
	physical    string
	handler     cloudaws.Handler
	sendTo      string
	maxMessages int32
	visibility  int32
	wait        int32
	concurrency int

	permits  *semaphore.Weighted
	inFlight atomic.Int64
	queueURL atomic.Pointer[string]
}

func (r *registration) url() string {
	if p := r.queueURL.Load(); p != nil {
		return *p
	}
	return ""
}

// containerRun holds the contexts and wait groups of one Start/Stop cycle
type containerRun struct {
	// runCtx is passed to receives and handlers; cancelled when the stop timeout expires
	runCtx    context.Context
	runCancel context.CancelFunc
	// stopCtx is cancelled as soon as stop is requested; it interrupts back-off and permit waits
	stopCtx    context.Context
	stopCancel context.CancelFunc

	pollers  sync.WaitGroup
	handlers sync.WaitGroup
}

// ListenerContainer polls SQS queues and dispatches messages to handlers.
//
// Each queue is polled by one poller task. A poller only receives while the
// container is RUNNING, and takes one permit per message before handing it to
// the executor, so no queue ever has more than its concurrency limit of
// messages in flight.
type ListenerContainer struct {
	client         SQSAPI
	executor       cloudaws.TaskExecutor
	ownedPool      *cloudaws.WorkerPool
	resolver       cloudaws.ResourceIDResolver
	errorHandler   cloudaws.ErrorHandler
	replySender    cloudaws.MessageSender
	deletionPolicy cloudaws.DeletionPolicy
	backOffTime    time.Duration
	stopTimeout    time.Duration
	logger         *slog.Logger
	metrics        *cloudaws.Metrics

	registrations []*registration
	byPhysical    map[string]*registration

	state       atomic.Int32
	lifecycleMu sync.Mutex
	destroyed   bool
	run         *containerRun
}

// NewListenerContainer validates cfg and creates a container in the CREATED state
func NewListenerContainer(cfg ListenerContainerConfig) (*ListenerContainer, error) {
	if cfg.Client == nil {
		return nil, errors.New("SQS client is required")
	}
	if len(cfg.Listeners) == 0 {
		return nil, errors.New("at least one listener is required")
	}
	if cfg.MaxNumberOfMessages == 0 {
		cfg.MaxNumberOfMessages = cloudaws.DefaultMaxNumberOfMessages
	}
	if cfg.WaitTimeSeconds == nil {
		cfg.WaitTimeSeconds = aws.Int32(cloudaws.DefaultWaitTimeSeconds)
	}
	if cfg.BackOffTime == 0 {
		cfg.BackOffTime = cloudaws.DefaultBackOffTime
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = cloudaws.DefaultStopTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = cloudaws.LoggingErrorHandler(cfg.Logger)
	}

	c := &ListenerContainer{
		client:         cfg.Client,
		executor:       cfg.Executor,
		resolver:       cfg.ResourceIDResolver,
		errorHandler:   cfg.ErrorHandler,
		replySender:    cfg.ReplySender,
		deletionPolicy: cfg.DeletionPolicy,
		backOffTime:    cfg.BackOffTime,
		stopTimeout:    cfg.StopTimeout,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		byPhysical:     make(map[string]*registration, len(cfg.Listeners)),
	}

	poolSize := 0
	for i, l := range cfg.Listeners {
		reg, err := c.newRegistration(cfg, l)
		if err != nil {
			return nil, fmt.Errorf("listener %d: %w", i, err)
		}
		if _, dup := c.byPhysical[reg.physical]; dup {
			return nil, fmt.Errorf("listener %d: duplicate queue %q", i, l.Queue)
		}
		c.byPhysical[reg.physical] = reg
		c.registrations = append(c.registrations, reg)
		poolSize += reg.concurrency + 1
	}
	if c.executor == nil {
		c.ownedPool = cloudaws.NewWorkerPool(poolSize)
		c.executor = c.ownedPool
	}
	c.state.Store(int32(cloudaws.StateCreated))
	return c, nil
}

func (c *ListenerContainer) newRegistration(cfg ListenerContainerConfig, l Listener) (*registration, error) {
	if l.Queue == "" {
		return nil, errors.New("queue is required")
	}
	if l.Handler == nil {
		return nil, fmt.Errorf("handler is required for queue %q", l.Queue)
	}
	if l.SendTo != "" && cfg.ReplySender == nil {
		return nil, fmt.Errorf("queue %q has a SendTo destination but no ReplySender is configured", l.Queue)
	}
	reg := &registration{
		queue:       l.Queue,
		handler:     l.Handler,
		sendTo:      l.SendTo,
		maxMessages: l.MaxNumberOfMessages,
		visibility:  l.VisibilityTimeout,
		concurrency: l.Concurrency,
	}
	if reg.maxMessages == 0 {
		reg.maxMessages = cfg.MaxNumberOfMessages
	}
	if reg.maxMessages < 1 || reg.maxMessages > 10 {
		return nil, fmt.Errorf("max number of messages for queue %q must be between 1 and 10", l.Queue)
	}
	if reg.visibility == 0 {
		reg.visibility = cfg.VisibilityTimeout
	}
	if reg.visibility < 0 {
		return nil, fmt.Errorf("visibility timeout for queue %q must not be negative", l.Queue)
	}
	wait := cfg.WaitTimeSeconds
	if l.WaitTimeSeconds != nil {
		wait = l.WaitTimeSeconds
	}
	reg.wait = *wait
	if reg.wait < 0 || reg.wait > 20 {
		return nil, fmt.Errorf("wait time for queue %q must be between 0 and 20 seconds", l.Queue)
	}
	if reg.concurrency == 0 {
		reg.concurrency = int(reg.maxMessages)
	}
	if reg.concurrency < 0 {
		return nil, fmt.Errorf("concurrency for queue %q must not be negative", l.Queue)
	}
	reg.permits = semaphore.NewWeighted(int64(reg.concurrency))

	if isQueueURL(l.Queue) {
		reg.physical = queueNameFromURL(l.Queue)
		reg.queueURL.Store(aws.String(l.Queue))
	} else {
		reg.physical = cloudaws.Resolve(c.resolver, l.Queue)
	}
	return reg, nil
}

func isQueueURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}

func queueNameFromURL(u string) string {
	return u[strings.LastIndex(u, "/")+1:]
}

// State returns the current lifecycle state
func (c *ListenerContainer) State() cloudaws.LifecycleState {
	return cloudaws.LifecycleState(c.state.Load())
}

// IsRunning reports whether the container is RUNNING
func (c *ListenerContainer) IsRunning() bool {
	return c.State() == cloudaws.StateRunning
}

// Start resolves the queue URLs and starts one poller per queue.
// Starting a RUNNING container is a no-op; a STOPPED container may be restarted.
// ctx is used for queue URL resolution; the pollers keep its values but not its cancellation.
func (c *ListenerContainer) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.destroyed {
		return cloudaws.ErrContainerDestroyed
	}
	if c.IsRunning() {
		return nil
	}
	for _, reg := range c.registrations {
		if reg.url() != "" {
			continue
		}
		out, err := c.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(reg.physical)})
		if err != nil {
			return fmt.Errorf("failed to resolve queue url for %s: %w", reg.queue, err)
		}
		reg.queueURL.Store(out.QueueUrl)
	}

	run := &containerRun{}
	run.runCtx, run.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	run.stopCtx, run.stopCancel = context.WithCancel(run.runCtx)
	c.run = run
	c.state.Store(int32(cloudaws.StateRunning))

	for _, reg := range c.registrations {
		run.pollers.Add(1)
		if err := c.executor.Submit(func() {
			defer run.pollers.Done()
			c.poll(run, reg)
		}); err != nil {
			run.pollers.Done()
			c.state.Store(int32(cloudaws.StateStopping))
			run.stopCancel()
			run.runCancel()
			run.pollers.Wait()
			c.state.Store(int32(cloudaws.StateStopped))
			return fmt.Errorf("failed to start poller for %s: %w", reg.queue, err)
		}
	}
	c.logger.InfoContext(ctx, "Listener container started", "queues", len(c.registrations))
	return nil
}

// Stop requests every poller to stop and waits up to the stop timeout for
// pollers and in-flight handlers. A receive in progress is only interrupted
// once the timeout has expired. Stopping a container that is not RUNNING is a no-op.
func (c *ListenerContainer) Stop() error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if !c.IsRunning() {
		return nil
	}
	run := c.run
	c.state.Store(int32(cloudaws.StateStopping))
	run.stopCancel()
	c.logger.Info("Stopping listener container")

	done := make(chan struct{})
	go func() {
		// pollers first: once they are gone no handler can be added
		run.pollers.Wait()
		run.handlers.Wait()
		close(done)
	}()

	timer := time.NewTimer(c.stopTimeout)
	defer timer.Stop()
	var err error
	select {
	case <-done:
	case <-timer.C:
		c.logger.Warn("Stop timeout exceeded, interrupting pollers and handlers", "timeout", c.stopTimeout, "in_flight", c.inFlight())
		run.runCancel()
		run.pollers.Wait()
		err = fmt.Errorf("listener container did not stop within %s", c.stopTimeout)
	}
	run.runCancel()
	c.state.Store(int32(cloudaws.StateStopped))
	c.logger.Info("Listener container stopped")
	return err
}

// Destroy stops the container and shuts down the executor when the container created it.
// A destroyed container cannot be started again.
func (c *ListenerContainer) Destroy() error {
	var result *multierror.Error
	if err := c.Stop(); err != nil {
		result = multierror.Append(result, err)
	}

	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.destroyed {
		return result.ErrorOrNil()
	}
	c.destroyed = true
	if c.ownedPool != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.stopTimeout)
		defer cancel()
		if err := c.ownedPool.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to shut down executor: %w", err))
		}
	}
	return result.ErrorOrNil()
}

func (c *ListenerContainer) inFlight() int64 {
	var n int64
	for _, reg := range c.registrations {
		n += reg.inFlight.Load()
	}
	return n
}

// Status returns the lifecycle state and per-queue counters
func (c *ListenerContainer) Status() cloudaws.ContainerStatus {
	status := cloudaws.ContainerStatus{
		State:  c.State(),
		Queues: make([]cloudaws.QueueStatus, 0, len(c.registrations)),
	}
	for _, reg := range c.registrations {
		status.Queues = append(status.Queues, cloudaws.QueueStatus{
			Queue:       reg.queue,
			URL:         reg.url(),
			SendTo:      reg.sendTo,
			Concurrency: reg.concurrency,
			InFlight:    reg.inFlight.Load(),
		})
	}
	return status
}

var _ cloudaws.StatusProvider = (*ListenerContainer)(nil)
