package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mortal/austin/internal/config"
	"github.com/Mortal/austin/pkg/version"
)

// execute runs the root command with a run function that records the
// configuration instead of profiling.
func execute(t *testing.T, fs afero.Fs, args ...string) (config.Config, string, error) {
	t.Helper()

	var got config.Config
	ran := false
	cmd := newRootCmd(fs, func(_ *cobra.Command, cfg config.Config) error {
		got, ran = cfg, true
		return nil
	})

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	// A nil slice would make cobra fall back to os.Args.
	cmd.SetArgs(append([]string{}, args...))

	err := cmd.Execute()
	if err == nil && !ran && out.Len() == 0 {
		t.Fatal("command neither ran nor printed anything")
	}
	return got, out.String(), err
}

func TestRoot_Defaults(t *testing.T) {
	cfg, _, err := execute(t, afero.NewMemMapFs(), "python3", "app.py")
	require.NoError(t, err)

	want := config.Default()
	want.Command = []string{"python3", "app.py"}
	assert.Equal(t, want, cfg)
}

func TestRoot_Flags(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, cfg config.Config)
	}{
		{
			name: "interval duration",
			args: []string{"-i", "2ms", "python3", "app.py"},
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, 2*time.Millisecond, cfg.Interval)
			},
		},
		{
			name: "bare interval is microseconds",
			args: []string{"-i", "500", "python3", "app.py"},
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, 500*time.Microsecond, cfg.Interval)
			},
		},
		{
			name: "combined shorthands",
			args: []string{"-si", "1ms", "python3", "app.py"},
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, config.ModeCPU, cfg.Mode)
				assert.Equal(t, time.Millisecond, cfg.Interval)
			},
		},
		{
			name: "memory",
			args: []string{"-m", "python3", "app.py"},
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, config.ModeMemory, cfg.Mode)
			},
		},
		{
			name: "full",
			args: []string{"-f", "python3", "app.py"},
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, config.ModeFull, cfg.Mode)
			},
		},
		{
			name: "heap size",
			args: []string{"-h", "64KiB", "python3", "app.py"},
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, uint64(64*1024), cfg.HeapThreshold)
			},
		},
		{
			name: "bare exposure is seconds",
			args: []string{"-x", "3", "python3", "app.py"},
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, 3*time.Second, cfg.Exposure)
			},
		},
		{
			name: "bare timeout is milliseconds",
			args: []string{"-t", "250", "python3", "app.py"},
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, 250*time.Millisecond, cfg.Timeout)
			},
		},
		{
			name: "attach with children",
			args: []string{"-C", "-p", "4242"},
			check: func(t *testing.T, cfg config.Config) {
				assert.True(t, cfg.Multiprocess)
				assert.Equal(t, 4242, cfg.AttachPID)
				assert.Empty(t, cfg.Command)
			},
		},
		{
			name: "pprof output",
			args: []string{"-F", "pprof", "-o", "app.pb.gz", "python3", "app.py"},
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, config.FormatPprof, cfg.Format)
				assert.Equal(t, "app.pb.gz", cfg.OutputPath)
			},
		},
		{
			name: "target flags pass through",
			args: []string{"-i", "1ms", "python3", "-m", "app", "-x", "1", "--help"},
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, config.ModeWall, cfg.Mode)
				assert.Zero(t, cfg.Exposure)
				assert.Equal(t, []string{"python3", "-m", "app", "-x", "1", "--help"}, cfg.Command)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _, err := execute(t, afero.NewMemMapFs(), tt.args...)
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestRoot_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "no target", args: nil},
		{name: "exclusive modes", args: []string{"-s", "-m", "python3"}},
		{name: "bad interval", args: []string{"-i", "soon", "python3"}},
		{name: "negative interval", args: []string{"-i", "-5ms", "python3"}},
		{name: "bad heap", args: []string{"-h", "lots", "python3"}},
		{name: "pid and command", args: []string{"-p", "42", "python3"}},
		{name: "pprof to stdout", args: []string{"-F", "pprof", "python3"}},
		{name: "unknown format", args: []string{"-F", "json", "-o", "x", "python3"}},
		{name: "missing config", args: []string{"--config", "/nope.yaml", "python3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, afero.NewMemMapFs(), tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestRoot_ConfigFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/austin.yaml", []byte(
		"mode: cpu\ninterval: 5ms\nheap: 1MiB\nchildren: \"true\"\n"), 0o644))

	cfg, _, err := execute(t, fs, "--config", "/etc/austin.yaml", "python3", "app.py")
	require.NoError(t, err)
	assert.Equal(t, config.ModeCPU, cfg.Mode)
	assert.Equal(t, 5*time.Millisecond, cfg.Interval)
	assert.Equal(t, uint64(1<<20), cfg.HeapThreshold)
	assert.True(t, cfg.Multiprocess)

	// Flags win over the file.
	cfg, _, err = execute(t, fs, "--config", "/etc/austin.yaml", "-f", "-i", "2ms", "python3", "app.py")
	require.NoError(t, err)
	assert.Equal(t, config.ModeFull, cfg.Mode)
	assert.Equal(t, 2*time.Millisecond, cfg.Interval)
}

func TestRoot_Environment(t *testing.T) {
	t.Setenv("AUSTIN_MODE", "memory")
	t.Setenv("AUSTIN_EXPOSURE", "2")

	cfg, _, err := execute(t, afero.NewMemMapFs(), "python3", "app.py")
	require.NoError(t, err)
	assert.Equal(t, config.ModeMemory, cfg.Mode)
	assert.Equal(t, 2*time.Second, cfg.Exposure)
}

func TestRoot_Version(t *testing.T) {
	_, out, err := execute(t, afero.NewMemMapFs(), "-V")
	require.NoError(t, err)
	assert.Equal(t, version.String()+"\n", out)
}

func TestRoot_Help(t *testing.T) {
	_, out, err := execute(t, afero.NewMemMapFs(), "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "--heap")
	assert.Contains(t, out, "-x, --exposure")
}
