package logger

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threadcrawl/pkg/config"
)

func newBufferLogger(buf *bytes.Buffer) *zerologLogger {
	zlog := zerolog.New(buf).With().Timestamp().Logger().Level(zerolog.DebugLevel)
	return &zerologLogger{
		logger: &zlog,
		fields: make(map[string]interface{}),
	}
}

func TestNew(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "crawl.log")

	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{"info level", &config.LoggingConfig{Level: "info"}, false},
		{"debug level without color", &config.LoggingConfig{Level: "debug", NoColor: true}, false},
		{"json format", &config.LoggingConfig{Level: "warn", Format: "json"}, false},
		{"quiet", &config.LoggingConfig{Level: "quiet"}, false},
		{"invalid log level", &config.LoggingConfig{Level: "invalid"}, true},
		{"file output", &config.LoggingConfig{Level: "info", File: logFile}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestNewWritesJSONToFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "crawl.log")
	var console bytes.Buffer
	prev := Output
	Output = &console
	defer func() { Output = prev }()

	l, err := New(&config.LoggingConfig{Level: "info", File: logFile, NoColor: true})
	require.NoError(t, err)
	l.WithField("subreddit", "golang").Info("task started")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"subreddit":"golang"`)
	assert.Contains(t, string(data), `"message":"task started"`)
	assert.Contains(t, console.String(), "task started")
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"DEBUG", zerolog.DebugLevel, false},
		{"info", zerolog.InfoLevel, false},
		{"", zerolog.InfoLevel, false},
		{"warn", zerolog.WarnLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"quiet", zerolog.ErrorLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"invalid", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			level, err := parseLogLevel(tt.level)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseLogLevel() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if level != tt.expected {
				t.Errorf("parseLogLevel() = %v, want %v", level, tt.expected)
			}
		})
	}
}

func TestLoggerMethods(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	cases := map[string]func(string){
		"debug message": l.Debug,
		"info message":  l.Info,
		"warn message":  l.Warn,
		"error message": l.Error,
	}
	for msg, fn := range cases {
		buf.Reset()
		fn(msg)
		if !strings.Contains(buf.String(), msg) {
			t.Errorf("%q not found in output", msg)
		}
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	l.WithFields(map[string]interface{}{
		"string": "value",
		"int":    42,
		"bool":   true,
	}).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, `"string":"value"`)
	assert.Contains(t, output, `"int":42`)
	assert.Contains(t, output, `"bool":true`)
}

func TestWithFieldDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	_ = l.WithField("task_id", "abc")
	l.Info("parent")
	assert.NotContains(t, buf.String(), "task_id")
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	assert.Equal(t, Logger(l), l.WithError(nil))

	l.WithError(errors.New("boom")).Error("error occurred")
	output := buf.String()
	assert.Contains(t, output, "error occurred")
	assert.Contains(t, output, "boom")
}

func TestFieldTypes(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	l.InfoWithFields("test all types", map[string]interface{}{
		"int64":    int64(456),
		"float":    3.5,
		"time":     time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		"duration": 5 * time.Second,
		"strings":  []string{"a", "b"},
		"ints":     []int{1, 2},
		"cause":    errors.New("nested"),
		"custom":   struct{ Name string }{Name: "test"},
	})

	output := buf.String()
	assert.Contains(t, output, `"int64":456`)
	assert.Contains(t, output, `"strings":["a","b"]`)
	assert.Contains(t, output, `"cause":"nested"`)
	assert.Contains(t, output, `"Name":"test"`)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	zlog := zerolog.New(&buf).Level(zerolog.WarnLevel)
	l := &zerologLogger{logger: &zlog, fields: map[string]interface{}{}}

	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestGlobalLoggerAndHelpers(t *testing.T) {
	prev := GetLogger()
	defer SetLogger(prev)

	tl := NewTestLogger()
	SetLogger(tl)

	LogQuota("wait", 0, 2*time.Second)
	LogStageResult("task-1", "paginate", 3, nil)
	LogStageResult("task-1", "resolve_tree", 5, errors.New("orphan"))
	LogRequest("GET", "https://oauth.reddit.com/r/golang/about", 404, time.Millisecond)
	LogComponentStart("runner", map[string]interface{}{"mode": "full"})
	LogMetrics("batch", map[string]interface{}{"tasks": 2})

	assert.True(t, tl.HasMessage("WARN", "quota exhausted"))
	assert.True(t, tl.HasMessage("DEBUG", "Stage completed"))
	assert.True(t, tl.HasError())
	assert.True(t, tl.HasMessage("WARN", "client error"))
	assert.True(t, tl.HasMessage("INFO", "Component started"))

	errs := tl.GetMessagesByLevel("ERROR")
	require.Len(t, errs, 1)
	assert.Equal(t, "resolve_tree", errs[0].Fields["stage"])
	assert.Equal(t, "orphan", errs[0].Fields["error"])
}

func TestTestLoggerSharesSink(t *testing.T) {
	tl := NewTestLogger()
	child := tl.WithField("component", "resolver")
	child.Info("from child")
	tl.Info("from parent")

	msgs := tl.GetMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "resolver", msgs[0].Fields["component"])
	assert.NotContains(t, msgs[1].Fields, "component")

	tl.Clear()
	assert.Empty(t, tl.GetMessages())
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.WithField("k", "v").WithError(errors.New("x")).Info("ignored")
	assert.NotNil(t, l.GetZerolog())
}
