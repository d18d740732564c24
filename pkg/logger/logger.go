package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     LogLevel               `json:"level"`
	Action    string                 `json:"action"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

type Logger struct {
	output io.Writer
}

var globalLogger *Logger

func New(output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	return &Logger{output: output}
}

func Init() {
	globalLogger = New(os.Stdout)
}

func (l *Logger) log(level LogLevel, action string, details map[string]interface{}, err error) {
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Action:    action,
		Details:   details,
	}

	if err != nil {
		entry.Error = err.Error()
	}

	data, _ := json.Marshal(entry)

	if l.output == os.Stdout {
		var colorCode string
		switch level {
		case LevelError:
			colorCode = "\033[31m"
		case LevelWarn:
			colorCode = "\033[33m"
		default:
			colorCode = "\033[36m"
		}
		fmt.Fprintf(l.output, "%s%s%s\n", colorCode, string(data), "\033[0m")
	} else {
		fmt.Fprintf(l.output, "%s\n", string(data))
	}
}

func Info(action string, details map[string]interface{}) {
	if globalLogger != nil {
		globalLogger.log(LevelInfo, action, details, nil)
	}
}

func Warn(action string, details map[string]interface{}) {
	if globalLogger != nil {
		globalLogger.log(LevelWarn, action, details, nil)
	}
}

func Error(action string, err error, details map[string]interface{}) {
	if globalLogger != nil {
		globalLogger.log(LevelError, action, details, err)
	}
}

var sensitiveFields = []string{"password", "token", "accessToken", "secret"}

func redactSensitiveFields(jsonMap map[string]interface{}) {
	for _, field := range sensitiveFields {
		if _, exists := jsonMap[field]; exists {
			jsonMap[field] = "[REDACTED]"
		}
	}
}

// GetRequestBodySummary returns a loggable summary of the request body with
// credential fields redacted. Large or binary bodies are summarized by size.
func GetRequestBodySummary(c *fiber.Ctx) string {
	body := c.Body()
	if len(body) == 0 {
		return "empty"
	}

	if len(body) > 1024 {
		return fmt.Sprintf("large (%d bytes)", len(body))
	}

	var jsonMap map[string]interface{}
	if err := json.Unmarshal(body, &jsonMap); err == nil {
		redactSensitiveFields(jsonMap)
		if jsonBytes, err := json.Marshal(jsonMap); err == nil {
			if len(jsonBytes) > 200 {
				return string(jsonBytes[:200]) + "..."
			}
			return string(jsonBytes)
		}
	}

	return fmt.Sprintf("binary (%d bytes)", len(body))
}

func GenerateRequestID() string {
	return uuid.New().String()
}
