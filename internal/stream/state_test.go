package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 1500 * time.Millisecond},
		{3, 2250 * time.Millisecond},
		{4, 3375 * time.Millisecond},
		{5, 5062500 * time.Microsecond},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(time.Second, tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestURLFromPage(t *testing.T) {
	tests := []struct {
		page    string
		want    string
		wantErr bool
	}{
		{page: "http://localhost:3000/dashboard/tables", want: "ws://localhost:3000/ws"},
		{page: "https://bistro.example.com/schedule?date=2026-03-14#grid", want: "wss://bistro.example.com/ws"},
		{page: "wss://bistro.example.com", want: "wss://bistro.example.com/ws"},
		{page: "ftp://bistro.example.com", wantErr: true},
		{page: "/relative/path", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.page, func(t *testing.T) {
			got, err := URLFromPage(tt.page)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "error", StateError.String())
	assert.Equal(t, "state(42)", State(42).String())
}
