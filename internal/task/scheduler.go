package task

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/revmark-backend/internal/logger"
	"github.com/ignatzorin/revmark-backend/internal/service"
)

// Job - периодическая фоновая задача.
type Job interface {
	Name() string
	Interval() time.Duration
	Execute(ctx context.Context)
}

// Scheduler запускает фоновые задачи приложения.
type Scheduler struct {
	scheduler gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewScheduler создаёт планировщик. Задачи с нулевым интервалом не регистрируются.
func NewScheduler(ctx context.Context, jobs ...Job) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("task: create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	sched := &Scheduler{scheduler: s, ctx: ctx, cancel: cancel}

	for _, job := range jobs {
		if job.Interval() <= 0 {
			logger.L().WithField("job", job.Name()).Info("task: задача отключена")
			continue
		}
		if err := sched.register(job); err != nil {
			cancel()
			_ = s.Shutdown()
			return nil, err
		}
	}

	return sched, nil
}

func (s *Scheduler) register(job Job) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(job.Interval()),
		gocron.NewTask(func() { job.Execute(s.ctx) }),
		gocron.WithName(job.Name()),
		// следующий запуск переносится, пока идёт предыдущий
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("task: register %s: %w", job.Name(), err)
	}
	return nil
}

// Start запускает планировщик.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	logger.L().WithField("jobs", len(s.scheduler.Jobs())).Info("task: планировщик запущен")
}

// Stop отменяет текущие задачи и ждёт их завершения.
func (s *Scheduler) Stop() {
	s.cancel()
	if err := s.scheduler.Shutdown(); err != nil {
		logger.L().WithError(err).Error("task: не удалось остановить планировщик")
	}
}

// Reconciler - часть EscrowService, нужная задаче сверки.
type Reconciler interface {
	Reconcile(ctx context.Context, olderThan time.Duration) (*service.ReconcileReport, error)
}

// ReconcileJob сверяет зависшие платежи со шлюзом.
type ReconcileJob struct {
	escrow    Reconciler
	interval  time.Duration
	olderThan time.Duration
}

// NewReconcileJob создаёт задачу сверки.
func NewReconcileJob(escrow Reconciler, interval, olderThan time.Duration) *ReconcileJob {
	return &ReconcileJob{escrow: escrow, interval: interval, olderThan: olderThan}
}

func (j *ReconcileJob) Name() string { return "escrow_reconcile" }

func (j *ReconcileJob) Interval() time.Duration { return j.interval }

// Execute выполняет один проход сверки.
func (j *ReconcileJob) Execute(ctx context.Context) {
	report, err := j.escrow.Reconcile(ctx, j.olderThan)
	if err != nil {
		logger.L().WithError(err).Error("task: сверка платежей не выполнена")
		return
	}

	entry := logger.L().WithFields(logrus.Fields{
		"checked":   report.Checked,
		"confirmed": report.Confirmed,
		"failed":    report.Failed,
		"pending":   report.Pending,
		"abandoned": report.Abandoned,
		"errors":    report.Errors,
	})
	if report.Errors > 0 {
		entry.Warn("task: сверка завершена с ошибками")
		return
	}
	entry.Info("task: сверка завершена")
}
