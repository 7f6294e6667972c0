package probe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ioregSample = `+-o IOHIDSystem  <class IOHIDSystem, id 0x100000466, registered, matched, active, busy 0 (0 ms), retain 25>
    {
      "HIDIdleTime" = 4207583
      "HIDPointerAcceleration" = 45056
    }
`

func fakeRunner(outputs map[string]string) runner {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		out, ok := outputs[name]
		if !ok {
			return nil, errors.New(name + ": not found")
		}
		return []byte(out), nil
	}
}

func TestIdleTime(t *testing.T) {
	tests := []struct {
		name    string
		goos    string
		outputs map[string]string
		want    time.Duration
		wantErr bool
	}{
		{"linux", "linux", map[string]string{"xprintidle": "1500\n"}, 1500 * time.Millisecond, false},
		{"linux garbage", "linux", map[string]string{"xprintidle": "n/a"}, 0, true},
		{"linux missing tool", "linux", nil, 0, true},
		{"darwin", "darwin", map[string]string{"ioreg": ioregSample}, 4207583 * time.Nanosecond, false},
		{"darwin no key", "darwin", map[string]string{"ioreg": "{}"}, 0, true},
		{"windows", "windows", nil, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &System{goos: tt.goos, run: fakeRunner(tt.outputs)}
			got, err := s.IdleTime(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestActiveApp(t *testing.T) {
	s := &System{goos: "linux", run: fakeRunner(map[string]string{"xdotool": "main.go - editor\n"})}
	app, err := s.ActiveApp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "main.go - editor", app)

	_, err = (&System{goos: "plan9"}).ActiveApp(context.Background())
	assert.ErrorIs(t, err, ErrUnsupported)
}
