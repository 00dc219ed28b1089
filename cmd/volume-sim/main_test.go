package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/volume-bridge/internal/hardware"
)

func TestSweepValues(t *testing.T) {
	assert.Equal(t, []string{"0", "50", "100", "50", "0"}, sweepValues(0, 100, 50))
	assert.Equal(t, []string{"5"}, sweepValues(5, 5, 1))
	assert.Nil(t, sweepValues(0, 100, 0))
	assert.Nil(t, sweepValues(10, 0, 1))
}

func TestSplitValues(t *testing.T) {
	assert.Equal(t, []string{"10", "20", "30"}, splitValues(" 10, 20,,30 "))
	assert.Empty(t, splitValues(""))
}

// 写出的数据经过 LineReader 读回后与原值一致
func TestForwardLinesRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, forwardLines(strings.NewReader("50\n\n75\n"), &buf))
	assert.Equal(t, "50\r\n\r\n75\r\n", buf.String())

	reader := hardware.NewLineReader(&buf)
	for _, want := range []string{"50", "", "75"} {
		got, err := reader.ReadLine()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestSendAll(t *testing.T) {
	var buf bytes.Buffer
	sendAll(&buf, []string{"1", "2"}, 0, false)
	assert.Equal(t, "1\r\n2\r\n", buf.String())
}
