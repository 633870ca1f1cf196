package utils

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpacahq/lfjournal/utils/log"
)

// All processes started here descend from rootContext, so KillAll stops
// every one of them.
var (
	runningProcesses struct {
		sync.Mutex
		procs       map[uint32]*Process
		rootContext context.Context
		kill        context.CancelFunc
	}

	lastPID uint32
)

func init() {
	runningProcesses.rootContext,
		runningProcesses.kill = context.WithCancel(context.Background())
	runningProcesses.procs = make(map[uint32]*Process)
}

// Job is one run of a periodic process. Its result or error is kept in the
// process message queue.
type Job func(ctx context.Context) (interface{}, error)

type Process struct {
	PID      uint32
	Name     string
	Context  context.Context
	Messages *MessageQueue
	kill     context.CancelFunc
	done     chan struct{}
}

func GetProcFromPID(pid uint32) *Process {
	runningProcesses.Lock()
	defer runningProcesses.Unlock()
	return runningProcesses.procs[pid]
}

func IsRunning(pid uint32) bool {
	return GetProcFromPID(pid).Running()
}

// Processes returns the running processes ordered by PID.
func Processes() []*Process {
	runningProcesses.Lock()
	out := make([]*Process, 0, len(runningProcesses.procs))
	for _, pr := range runningProcesses.procs {
		out = append(out, pr)
	}
	runningProcesses.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// KillAll stops every running process and waits for them to return.
func KillAll() {
	for _, pr := range Processes() {
		pr.Kill()
	}
}

func NewPID() uint32 {
	return atomic.AddUint32(&lastPID, 1)
}

// NewProcess runs job every interval until the process is killed or parent
// is done. A nil parent groups the process under the package root context.
func NewProcess(parent context.Context, name string, interval time.Duration, job Job) *Process {
	if parent == nil {
		parent = runningProcesses.rootContext
	}
	ctx, kill := context.WithCancel(parent)
	pr := &Process{
		PID:      NewPID(),
		Name:     name,
		Context:  ctx,
		Messages: NewMessageQueue(50),
		kill:     kill,
		done:     make(chan struct{}),
	}
	runningProcesses.Lock()
	runningProcesses.procs[pr.PID] = pr
	runningProcesses.Unlock()

	go pr.run(interval, job)
	return pr
}

func (pr *Process) run(interval time.Duration, job Job) {
	defer func() {
		runningProcesses.Lock()
		delete(runningProcesses.procs, pr.PID)
		runningProcesses.Unlock()
		close(pr.done)
	}()

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-pr.Context.Done():
			return
		case <-t.C:
			res, err := job(pr.Context)
			if err != nil {
				log.Error("process %s (pid %d): %v", pr.Name, pr.PID, err)
				pr.Messages.AddMessage(err)
				continue
			}
			if res != nil {
				pr.Messages.AddMessage(res)
			}
		}
	}
}

func (pr *Process) Running() bool {
	if pr == nil {
		return false
	}
	select {
	case <-pr.done:
		return false
	default:
		return true
	}
}

// Kill cancels the process and waits for its current job to return.
func (pr *Process) Kill() {
	pr.kill()
	<-pr.done
}

// Done is closed once the process has stopped.
func (pr *Process) Done() <-chan struct{} {
	return pr.done
}

func (pr *Process) GetOutput() (timestamps []time.Time, messages []interface{}) {
	return pr.Messages.GetMessages()
}

// MessageQueue keeps the last length messages with the time they arrived.
type MessageQueue struct {
	sync.Mutex
	length, cursor int
	timeStamp      []time.Time
	messages       []interface{}
}

func NewMessageQueue(length int) *MessageQueue {
	mq := new(MessageQueue)
	mq.length = length
	mq.timeStamp = make([]time.Time, length)
	mq.messages = make([]interface{}, length)
	return mq
}

func (mq *MessageQueue) Len() int { return mq.length }

func (mq *MessageQueue) AddMessage(msg interface{}) {
	mq.Lock()
	defer mq.Unlock()
	mq.messages[mq.cursor] = msg
	mq.timeStamp[mq.cursor] = time.Now()
	mq.cursor = (mq.cursor + 1) % mq.length
}

// GetMessages returns the queued messages oldest first.
func (mq *MessageQueue) GetMessages() (times []time.Time, messages []interface{}) {
	mq.Lock()
	defer mq.Unlock()
	for i := 0; i < mq.length; i++ {
		n := (mq.cursor + i) % mq.length
		if mq.timeStamp[n].IsZero() {
			continue
		}
		times = append(times, mq.timeStamp[n])
		messages = append(messages, mq.messages[n])
	}
	return times, messages
}
