package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	apperrors "github.com/wfunc/volume-bridge/internal/errors"
	"github.com/wfunc/volume-bridge/internal/hardware"
	"github.com/wfunc/volume-bridge/internal/mixer"
	"github.com/wfunc/volume-bridge/internal/models"
)

// trace 记录读取和执行的先后顺序
type trace struct {
	mu    sync.Mutex
	steps []string
}

func (t *trace) add(step string) {
	t.mu.Lock()
	t.steps = append(t.steps, step)
	t.mu.Unlock()
}

func (t *trace) list() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.steps...)
}

// tracingSource 通过 LineReader 读取给定数据
type tracingSource struct {
	lines  *hardware.LineReader
	trace  *trace
	closed bool
}

func newTracingSource(data string, tr *trace) *tracingSource {
	return &tracingSource{lines: hardware.NewLineReader(strings.NewReader(data)), trace: tr}
}

func (s *tracingSource) ReadLine() (string, error) {
	line, err := s.lines.ReadLine()
	if err == nil {
		s.trace.add("read:" + line)
	}
	return line, err
}

func (s *tracingSource) Close() error {
	s.closed = true
	return nil
}

// blockingSource 在关闭前一直阻塞
type blockingSource struct {
	lines    chan string
	closeCh  chan struct{}
	once     sync.Once
	closeCnt int
	mu       sync.Mutex
}

func newBlockingSource() *blockingSource {
	return &blockingSource{lines: make(chan string), closeCh: make(chan struct{})}
}

func (s *blockingSource) ReadLine() (string, error) {
	select {
	case line := <-s.lines:
		return line, nil
	case <-s.closeCh:
		return "", apperrors.New(apperrors.ErrSerialPortRead, "port closed")
	}
}

func (s *blockingSource) Close() error {
	s.mu.Lock()
	s.closeCnt++
	s.mu.Unlock()
	s.once.Do(func() { close(s.closeCh) })
	return nil
}

// MockRunner 模拟进程执行
type MockRunner struct {
	mock.Mock
	trace *trace
}

func (m *MockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if m.trace != nil {
		m.trace.add("apply:" + strings.Join(args, " "))
	}
	called := m.Called(name, args)
	out, _ := called.Get(0).([]byte)
	return out, called.Error(1)
}

// recordingSink 收集事件
type recordingSink struct {
	mu     sync.Mutex
	events []*models.VolumeEvent
}

func (s *recordingSink) Publish(event *models.VolumeEvent) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func args(value string) []string {
	return []string{"sset", "Master", value + "%", "-M", "-q"}
}

func TestRun_ReadThenApplyInOrder(t *testing.T) {
	tr := &trace{}
	runner := &MockRunner{trace: tr}
	runner.On("Run", "amixer", mock.Anything).Return([]byte(nil), nil)

	var out bytes.Buffer
	source := newTracingSource("50\r\n75\r\n", tr)
	b := New(source, mixer.NewApplier(nil, runner), WithOutput(&out))

	err := b.Run(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSerialPortRead) || errors.Is(err, io.EOF))

	assert.Equal(t, []string{
		"read:50", "apply:sset Master 50% -M -q",
		"read:75", "apply:sset Master 75% -M -q",
	}, tr.list())
	assert.Equal(t, "50\namixer sset Master 50% -M -q\n75\namixer sset Master 75% -M -q\n", out.String())
	runner.AssertNumberOfCalls(t, "Run", 2)
}

func TestStep_EmptyLine(t *testing.T) {
	runner := &MockRunner{}
	runner.On("Run", "amixer", args("")).Return([]byte(nil), nil).Once()

	var out bytes.Buffer
	b := New(newTracingSource("\r\n", &trace{}), mixer.NewApplier(nil, runner), WithOutput(&out))

	require.NoError(t, b.Step(context.Background()))
	assert.Equal(t, "\namixer sset Master % -M -q\n", out.String())
	runner.AssertExpectations(t)
}

func TestStep_NoEcho(t *testing.T) {
	runner := &MockRunner{}
	runner.On("Run", "amixer", args("10")).Return([]byte(nil), nil).Once()

	var out bytes.Buffer
	b := New(newTracingSource("10\r\n", &trace{}), mixer.NewApplier(nil, runner),
		WithOutput(&out), WithEcho(false))

	require.NoError(t, b.Step(context.Background()))
	assert.Empty(t, out.String())
}

func TestRun_CommandFailureDoesNotStopLoop(t *testing.T) {
	runner := &MockRunner{}
	runner.On("Run", "amixer", args("abc")).Return([]byte("invalid value"), errors.New("exit status 1")).Once()
	runner.On("Run", "amixer", args("20")).Return([]byte(nil), nil).Once()

	sink := &recordingSink{}
	b := New(newTracingSource("abc\r\n20\r\n", &trace{}), mixer.NewApplier(nil, runner),
		WithOutput(io.Discard), WithDevice("/dev/ttyUSB0"), WithSinks(sink, nil))

	err := b.Run(context.Background())
	require.Error(t, err)
	runner.AssertExpectations(t)

	status := b.Status()
	assert.Equal(t, "/dev/ttyUSB0", status.Device)
	assert.False(t, status.Running)
	assert.Equal(t, uint64(2), status.LinesRead)
	assert.Equal(t, uint64(1), status.CommandsApplied)
	assert.Equal(t, uint64(1), status.CommandFailures)
	assert.Equal(t, "20", status.LastValue)
	assert.Equal(t, "amixer sset Master 20% -M -q", status.LastCommand)
	assert.Empty(t, status.LastError)
	require.NotNil(t, status.LastAppliedAt)

	require.Len(t, sink.events, 2)
	failed := sink.events[0]
	assert.False(t, failed.Success)
	assert.Equal(t, uint64(1), failed.Sequence)
	assert.Contains(t, failed.ErrorMsg, "invalid value")
	assert.Equal(t, "/dev/ttyUSB0", failed.Device)
	assert.True(t, sink.events[1].Success)
	assert.Equal(t, uint64(2), sink.events[1].Sequence)
}

func TestRun_CancelUnblocksRead(t *testing.T) {
	runner := &MockRunner{}
	runner.On("Run", "amixer", args("30")).Return([]byte(nil), nil).Once()

	source := newBlockingSource()
	b := New(source, mixer.NewApplier(nil, runner), WithOutput(io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	source.lines <- "30"
	assert.Eventually(t, func() bool { return b.Status().CommandsApplied == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, b.Status().Running)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, b.Status().Running)
	source.mu.Lock()
	assert.Equal(t, 1, source.closeCnt)
	source.mu.Unlock()
}

func TestRun_AlreadyCanceled(t *testing.T) {
	source := newBlockingSource()
	b := New(source, mixer.NewApplier(nil, &MockRunner{}), WithOutput(io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, b.Run(ctx))
	assert.Equal(t, uint64(0), b.Status().LinesRead)
}

func TestRun_ReadErrorReturned(t *testing.T) {
	readErr := apperrors.New(apperrors.ErrSerialPortRead, "device unplugged")
	b := New(&failingSource{err: readErr}, mixer.NewApplier(nil, &MockRunner{}), WithOutput(io.Discard))

	err := b.Run(context.Background())
	assert.Equal(t, readErr, err)
	assert.True(t, apperrors.IsCritical(err))
}

type failingSource struct {
	err error
}

func (s *failingSource) ReadLine() (string, error) { return "", s.err }
func (s *failingSource) Close() error              { return nil }
