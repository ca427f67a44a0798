package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// PipelineLog represents a single completed pipeline run: an InitPipeline,
// FanoutPipeline or FreeScriptPipeline moving through its stages. VM
// teardowns submitted through Scheduler.SubmitDestroy are not logged here.
type PipelineLog struct {
	Timestamp  time.Time `json:"timestamp"`
	Kind       string    `json:"kind"`
	ScriptHash int32     `json:"script_hash"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	UnitsAffected int    `json:"units_affected,omitempty"`
	Orphaned   bool      `json:"orphaned,omitempty"`
}

// Logger handles pipeline completion logging.
type Logger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultLogger = &Logger{enabled: true, console: true}

// Default returns the default pipeline logger.
func Default() *Logger {
	return defaultLogger
}

// SetOutput sets the JSON log output file.
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output.
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes a pipeline completion entry.
func (l *Logger) Log(entry *PipelineLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	if l.console {
		status := "ok"
		if !entry.Success {
			status = "failed"
		}
		orphan := ""
		if entry.Orphaned {
			orphan = " [orphaned]"
		}
		fmt.Printf("[pipeline] %s %s hash=%d %dms%s\n",
			status, entry.Kind, entry.ScriptHash, entry.DurationMs, orphan)
		if entry.Error != "" {
			fmt.Printf("[pipeline]   error: %s\n", entry.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
