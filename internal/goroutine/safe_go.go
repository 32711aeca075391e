package goroutine

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/ignatzorin/revmark-backend/internal/logger"
)

// Logger принимает сообщения о перехваченных panic.
type Logger interface {
	Errorf(format string, args ...interface{})
}

// RecoveryHandler запускает горутины и гасит в них panic.
type RecoveryHandler struct {
	logger Logger
}

// NewRecoveryHandler создает новый обработчик
func NewRecoveryHandler(logger Logger) *RecoveryHandler {
	return &RecoveryHandler{logger: logger}
}

// SafeGo запускает горутину с обработкой panic
func (rh *RecoveryHandler) SafeGo(fn func()) {
	go rh.run(fn)
}

func (rh *RecoveryHandler) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			rh.logger.Errorf("panic in goroutine: %v\nstack trace:\n%s", r, debug.Stack())
		}
	}()
	fn()
}

// logrusLogger обращается к logger.L() только в момент записи,
// поэтому обработчик можно создать до инициализации логгера.
type logrusLogger struct{}

func (logrusLogger) Errorf(format string, args ...interface{}) {
	logger.L().Errorf(format, args...)
}

// DefaultRecoveryHandler пишет перехваченные panic в logrus.
var DefaultRecoveryHandler = NewRecoveryHandler(logrusLogger{})

// SafeGo запускает горутину через DefaultRecoveryHandler.
func SafeGo(fn func()) {
	DefaultRecoveryHandler.SafeGo(fn)
}

// Group - набор фоновых задач, завершения которых можно дождаться при остановке.
type Group struct {
	rh *RecoveryHandler
	wg sync.WaitGroup
}

// NewGroup создаёт группу. nil означает DefaultRecoveryHandler.
func NewGroup(rh *RecoveryHandler) *Group {
	if rh == nil {
		rh = DefaultRecoveryHandler
	}
	return &Group{rh: rh}
}

// Go запускает задачу в группе.
func (g *Group) Go(fn func()) {
	g.wg.Add(1)
	g.rh.SafeGo(func() {
		defer g.wg.Done()
		fn()
	})
}

// Wait ждёт завершения всех задач или отмены ctx.
func (g *Group) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
