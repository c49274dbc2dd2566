package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestOutputSplitter_Write tests that Write returns correct lengths and no
// errors regardless of which stream a message is routed to.
func TestOutputSplitter_Write(t *testing.T) {
	splitter := &OutputSplitter{}

	tests := []struct {
		name    string
		message []byte
	}{
		{
			name:    "ErrorLevel",
			message: []byte(`time="2026-01-15T10:30:00Z" level=error msg="upload attempt failed"`),
		},
		{
			name:    "InfoLevel",
			message: []byte(`time="2026-01-15T10:30:00Z" level=info msg="release request submitted"`),
		},
		{
			name:    "WarnLevel",
			message: []byte(`time="2026-01-15T10:30:00Z" level=warning msg="retrying upload"`),
		},
		{
			name:    "ErrorWordButInfoLevel",
			message: []byte(`time="2026-01-15T10:30:00Z" level=info msg="error counters reset"`),
		},
		{
			name:    "EmptyMessage",
			message: []byte(``),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := splitter.Write(tt.message)
			assert.NoError(t, err)
			assert.Equal(t, len(tt.message), n)
		})
	}
}

// TestOutputSplitter_ConcurrentWrites tests concurrent writes
func TestOutputSplitter_ConcurrentWrites(t *testing.T) {
	splitter := &OutputSplitter{}
	done := make(chan bool)

	for i := 0; i < 10; i++ {
		go func() {
			message := []byte("concurrent message from goroutine")
			n, err := splitter.Write(message)
			assert.NoError(t, err)
			assert.Equal(t, len(message), n)
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

// TestLogger_Initialization tests that the global logger is wired to the splitter
func TestLogger_Initialization(t *testing.T) {
	assert.NotNil(t, Logger, "Logger should be initialized")

	_, ok := Logger.Out.(*OutputSplitter)
	assert.True(t, ok, "Logger should use OutputSplitter")
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		expected string
	}{
		{name: "Empty", secret: "", expected: "<not set>"},
		{name: "Short", secret: "short", expected: "***"},
		{name: "ExactlyEight", secret: "12345678", expected: "***"},
		{name: "Long", secret: "myverylongsecretkey123", expected: "myve...y123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MaskSecret(tt.secret))
		})
	}
}

func TestPtr(t *testing.T) {
	v := Ptr(42)
	assert.NotNil(t, v)
	assert.Equal(t, 42, *v)

	s := Ptr("release")
	assert.Equal(t, "release", *s)
}

func TestMust(t *testing.T) {
	assert.Equal(t, 7, Must(7, nil))

	assert.Panics(t, func() {
		Must(0, assert.AnError)
	})
}
