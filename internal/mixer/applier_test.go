package mixer

import (
	"context"
	"errors"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/volume-bridge/internal/config"
	apperrors "github.com/wfunc/volume-bridge/internal/errors"
)

// MockRunner 模拟进程执行
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	called := m.Called(name, args)
	out, _ := called.Get(0).([]byte)
	return out, called.Error(1)
}

func TestNewVolumeCommand_String(t *testing.T) {
	assert.Equal(t, "amixer sset Master 50% -M -q", NewVolumeCommand("50").String())
	assert.Equal(t, "amixer sset Master % -M -q", NewVolumeCommand("").String())
}

func TestNewVolumeCommand_Property(t *testing.T) {
	property := func(v string) bool {
		return NewVolumeCommand(v).String() == "amixer sset Master "+v+"% -M -q"
	}
	assert.NoError(t, quick.Check(property, nil))
}

func TestNewVolumeCommand_ValueIsSingleArgument(t *testing.T) {
	cmd := NewVolumeCommand("50; rm -rf /")
	assert.Equal(t, "amixer", cmd.Binary)
	assert.Equal(t, []string{"sset", "Master", "50; rm -rf /%", "-M", "-q"}, cmd.Args)
	assert.Equal(t, "50; rm -rf /", cmd.Value)
}

func TestApplier_UsesConfig(t *testing.T) {
	a := NewApplier(&config.MixerConfig{Binary: "/usr/bin/amixer", Control: "PCM", Flags: []string{"-q"}}, nil)
	assert.Equal(t, "/usr/bin/amixer sset PCM 30% -q", a.Command("30").String())

	defaults := NewApplier(nil, nil)
	assert.Equal(t, "amixer sset Master 30% -M -q", defaults.Command("30").String())
}

func TestApplier_SetVolume(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", "amixer", []string{"sset", "Master", "50%", "-M", "-q"}).Return([]byte(nil), nil).Once()

	a := NewApplier(&config.MixerConfig{}, runner)
	cmd, err := a.SetVolume(context.Background(), "50")
	require.NoError(t, err)
	assert.Equal(t, "amixer sset Master 50% -M -q", cmd.String())
	runner.AssertExpectations(t)
}

func TestApplier_EmptyValuePassesThrough(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", "amixer", []string{"sset", "Master", "%", "-M", "-q"}).Return([]byte(nil), nil).Once()

	cmd, err := NewApplier(nil, runner).SetVolume(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "amixer sset Master % -M -q", cmd.String())
	runner.AssertExpectations(t)
}

func TestApplier_CommandFailure(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", "amixer", mock.Anything).
		Return([]byte("amixer: Invalid command!\n"), errors.New("exit status 1")).Once()

	_, err := NewApplier(nil, runner).SetVolume(context.Background(), "abc")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCommandFailed))
	assert.Contains(t, err.Error(), "amixer sset Master abc% -M -q")
	assert.Contains(t, err.Error(), "Invalid command!")
	assert.False(t, apperrors.IsCritical(err))
}

func TestApplier_Available(t *testing.T) {
	assert.NoError(t, NewApplier(&config.MixerConfig{Binary: "sh"}, nil).Available())

	err := NewApplier(&config.MixerConfig{Binary: "definitely-not-a-mixer-binary"}, nil).Available()
	assert.True(t, apperrors.Is(err, apperrors.ErrMixerUnavailable))
}

func TestExecRunner(t *testing.T) {
	out, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "printf ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(out))

	_, err = ExecRunner{}.Run(context.Background(), "sh", "-c", "exit 3")
	assert.Error(t, err)
}
