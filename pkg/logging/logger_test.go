package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func captureLogger(level logrus.Level) *bytes.Buffer {
	var buf bytes.Buffer
	Logger = logrus.New()
	Logger.SetOutput(&buf)
	Logger.SetLevel(level)
	Logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return &buf
}

func TestInit(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		expected logrus.Level
		wantErr  bool
	}{
		{name: "debug level", opts: Options{Level: "debug"}, expected: logrus.DebugLevel},
		{name: "warn level", opts: Options{Level: "warn"}, expected: logrus.WarnLevel},
		{name: "unknown level defaults to info", opts: Options{Level: "loud"}, expected: logrus.InfoLevel},
		{name: "json format", opts: Options{Level: "error", Format: "json"}, expected: logrus.ErrorLevel},
		{name: "bad format", opts: Options{Level: "info", Format: "xml"}, expected: logrus.InfoLevel, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Logger = logrus.New()
			err := Init(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Init() error = %v, wantErr %v", err, tt.wantErr)
			}
			if Logger.GetLevel() != tt.expected {
				t.Errorf("expected level %v, got %v", tt.expected, Logger.GetLevel())
			}
		})
	}
}

func TestInit_WithNestedLogFile(t *testing.T) {
	Logger = logrus.New()
	logFile := filepath.Join(t.TempDir(), "logs", "nested", "ftm.log")

	if err := Init(Options{Level: "info", File: logFile}); err != nil {
		t.Fatalf("Init with log file failed: %v", err)
	}
	Info("written to file")

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("log file was not created: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file missing message, got %q", string(data))
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Logger = logrus.New()
	if err := Init(Options{Level: "info", Format: "json"}); err != nil {
		t.Fatal(err)
	}
	Logger.SetOutput(&buf)

	Component("gallery").WithField("person", "john").Info("indexed")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["component"] != "gallery" || entry["person"] != "john" {
		t.Errorf("unexpected fields: %v", entry)
	}
}

func TestLoggingFunctions(t *testing.T) {
	buf := captureLogger(logrus.DebugLevel)

	cases := []struct {
		log  func()
		want string
	}{
		{func() { Debug("debug message") }, "debug message"},
		{func() { Debugf("debug %s", "formatted") }, "debug formatted"},
		{func() { Info("info message") }, "info message"},
		{func() { Infof("info %d", 42) }, "info 42"},
		{func() { Warnf("warn %s", "test") }, "warn test"},
		{func() { Errorf("error %s", "occurred") }, "error occurred"},
	}
	for _, c := range cases {
		buf.Reset()
		c.log()
		if !strings.Contains(buf.String(), c.want) {
			t.Errorf("expected %q in output, got %q", c.want, buf.String())
		}
	}
}

func TestFieldHelpers(t *testing.T) {
	buf := captureLogger(logrus.InfoLevel)

	WithFields(Fields{"person": "doe", "images": 3}).Info("grouped")
	WithField("path", "faces/doe/1.png").Info("skipped")
	WithError(os.ErrNotExist).Error("read failed")
	Component("scanner").Info("walked")

	out := buf.String()
	for _, want := range []string{"person=doe", "images=3", "path=faces/doe/1.png", "file does not exist", "component=scanner"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestLogLevel_Filtering(t *testing.T) {
	buf := captureLogger(logrus.ErrorLevel)

	Debug("debug")
	Info("info")
	Warnf("warn")
	if buf.Len() > 0 {
		t.Errorf("nothing below error should be logged, got %q", buf.String())
	}

	Errorf("error")
	if buf.Len() == 0 {
		t.Error("Errorf should be logged at Error level")
	}
}

func BenchmarkWithFields(b *testing.B) {
	Logger = logrus.New()
	Logger.SetOutput(&bytes.Buffer{})
	Logger.SetLevel(logrus.InfoLevel)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		WithFields(Fields{"person": "john", "path": "faces/john/1.jpg"}).Info("indexed")
	}
}
