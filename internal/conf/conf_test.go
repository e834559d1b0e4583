package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDuration_AsDuration(t *testing.T) {
	tests := []struct {
		name string
		in   Duration
		want time.Duration
	}{
		{name: "empty", in: "", want: 0},
		{name: "seconds", in: "5s", want: 5 * time.Second},
		{name: "hours", in: "168h", want: 168 * time.Hour},
		{name: "invalid", in: "soon", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.in.AsDuration())
		})
	}
}

func TestDuration_Or(t *testing.T) {
	require.Equal(t, 30*time.Second, Duration("").Or(30*time.Second))
	require.Equal(t, 30*time.Second, Duration("-1s").Or(30*time.Second))
	require.Equal(t, time.Minute, Duration("1m").Or(30*time.Second))
}
