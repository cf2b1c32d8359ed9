package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Sink получает копию каждой записи (доставка во внешнюю систему логов)
type Sink func(level string, msg string, fields map[string]interface{})

type Logger struct {
	logger *log.Logger
	level  Level
	fields []interface{}

	mu   *sync.RWMutex
	sink *Sink
}

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func New(level string) *Logger {
	return NewWithWriter(level, os.Stdout)
}

// NewWithWriter создает logger, пишущий в w
func NewWithWriter(level string, w io.Writer) *Logger {
	var sink Sink
	return &Logger{
		logger: log.New(w, "", 0),
		level:  parseLevel(level),
		mu:     &sync.RWMutex{},
		sink:   &sink,
	}
}

func parseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// With возвращает logger с постоянными полями (компонент, устройство).
// Дочерние logger'ы разделяют sink с родителем.
func (l *Logger) With(args ...interface{}) *Logger {
	fields := make([]interface{}, 0, len(l.fields)+len(args))
	fields = append(fields, l.fields...)
	fields = append(fields, args...)
	return &Logger{
		logger: l.logger,
		level:  l.level,
		fields: fields,
		mu:     l.mu,
		sink:   l.sink,
	}
}

// SetSink подключает доставку записей во внешнюю систему (CloudWatch Logs)
func (l *Logger) SetSink(sink Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.sink = sink
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	if l.level <= DEBUG {
		l.log("DEBUG", msg, args...)
	}
}

func (l *Logger) Info(msg string, args ...interface{}) {
	if l.level <= INFO {
		l.log("INFO", msg, args...)
	}
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	if l.level <= WARN {
		l.log("WARN", msg, args...)
	}
}

func (l *Logger) Error(msg string, err error, args ...interface{}) {
	if l.level <= ERROR {
		if err != nil {
			args = append(args, "error", err.Error())
		}
		l.log("ERROR", msg, args...)
	}
}

func (l *Logger) log(level, msg string, args ...interface{}) {
	all := make([]interface{}, 0, len(l.fields)+len(args))
	all = append(all, l.fields...)
	all = append(all, args...)

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s", timestamp, level, msg)

	if len(all) > 0 {
		b.WriteString(" |")
		for i := 0; i+1 < len(all); i += 2 {
			fmt.Fprintf(&b, " %v=%v", all[i], all[i+1])
		}
	}

	l.logger.Println(b.String())

	l.mu.RLock()
	sink := *l.sink
	l.mu.RUnlock()
	if sink != nil {
		sink(level, msg, toFields(all))
	}
}

func toFields(args []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		fields[fmt.Sprint(args[i])] = args[i+1]
	}
	return fields
}
