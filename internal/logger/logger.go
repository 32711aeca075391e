package logger

import (
	"io"

	"github.com/sirupsen/logrus"
)

var Log *logrus.Logger

// fallback используется до Init (например, в тестах), чтобы вызовы не падали на nil.
var fallback = newDiscard()

// Init инициализирует структурированный логгер.
func Init(level string) {
	Log = logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)

	// Используем JSON формат для production, text для development
	Log.SetFormatter(&logrus.JSONFormatter{})
}

// InitForEnv выбирает уровень и формат по окружению.
func InitForEnv(env string) {
	if env == "development" {
		Init("debug")
		SetTextFormatter()
		return
	}
	Init("info")
}

// SetTextFormatter устанавливает текстовый формат логов (для development).
func SetTextFormatter() {
	if Log != nil {
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}

// L возвращает инициализированный логгер или заглушку.
func L() *logrus.Logger {
	if Log != nil {
		return Log
	}
	return fallback
}

func newDiscard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
