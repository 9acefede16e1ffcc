package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/r973356237/AlphaWorker/internal/logger"
)

// TaskType represents the type of scheduled task
type TaskType string

const (
	TaskTypeGenerate    TaskType = "generate"
	TaskTypeSimulate    TaskType = "simulate"
	TaskTypeRun         TaskType = "run"
	TaskTypeAnalyze     TaskType = "analyze"
	TaskTypeCorrelation TaskType = "correlation"
)

// TaskStatus represents the status of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task represents a scheduled task
type Task struct {
	ID          string
	Type        TaskType
	Schedule    string
	LastRunTime time.Time
	Status      TaskStatus
	Error       string
}

// TaskHandler defines the interface for task handlers
type TaskHandler interface {
	Handle(ctx context.Context) error
}

// TaskHandlerFunc adapts a function to the TaskHandler interface
type TaskHandlerFunc func(ctx context.Context) error

func (f TaskHandlerFunc) Handle(ctx context.Context) error { return f(ctx) }

// Scheduler runs pipeline stages on cron schedules
type Scheduler struct {
	cron     *cron.Cron
	tasks    map[string]*Task
	handlers map[TaskType]TaskHandler
	log      logger.Logger
	baseCtx  context.Context
	mu       sync.RWMutex
}

// New creates a new scheduler
func New(log logger.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		tasks:    make(map[string]*Task),
		handlers: make(map[TaskType]TaskHandler),
		log:      log,
		baseCtx:  context.Background(),
	}
}

// RegisterHandler registers a handler for a task type
func (s *Scheduler) RegisterHandler(taskType TaskType, handler TaskHandler) {
	s.handlers[taskType] = handler
}

// AddTask schedules a registered task type with a cron expression
func (s *Scheduler) AddTask(taskType TaskType, schedule string) error {
	handler, exists := s.handlers[taskType]
	if !exists {
		return fmt.Errorf("no handler registered for task type: %s", taskType)
	}

	task := &Task{
		ID:       fmt.Sprintf("%s_%d", taskType, time.Now().UnixNano()),
		Type:     taskType,
		Schedule: schedule,
		Status:   TaskStatusPending,
	}

	_, err := s.cron.AddFunc(schedule, func() {
		s.runTask(task, handler)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.mu.Lock()
	s.tasks[task.ID] = task
	s.mu.Unlock()

	s.log.Info("scheduled task", "type", string(taskType), "schedule", schedule)
	return nil
}

// Start starts the scheduler. Tasks run under ctx, so cancelling it
// cancels in-flight runs.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runTask(task *Task, handler TaskHandler) {
	s.mu.Lock()
	ctx := s.baseCtx
	if task.Status == TaskStatusRunning {
		// A long simulation run can outlast its own schedule slot
		s.mu.Unlock()
		s.log.Warn("skipping task, previous run still active", "type", string(task.Type))
		return
	}
	task.Status = TaskStatusRunning
	task.LastRunTime = time.Now()
	s.mu.Unlock()

	s.log.Info("running scheduled task", "type", string(task.Type))
	err := handler.Handle(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		task.Status = TaskStatusFailed
		task.Error = err.Error()
		s.log.Error("scheduled task failed", "type", string(task.Type), "error", err)
	} else {
		task.Status = TaskStatusCompleted
		task.Error = ""
	}
}

// GetTask returns a snapshot of a task by ID
func (s *Scheduler) GetTask(taskID string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return Task{}, fmt.Errorf("task not found: %s", taskID)
	}
	return *task, nil
}

// ListTasks returns a snapshot of all tasks
func (s *Scheduler) ListTasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, *task)
	}
	return tasks
}
