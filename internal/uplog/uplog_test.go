package uplog_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irgordon/uplink/internal/uplog"
)

func TestBuffer_AppendsInOrder(t *testing.T) {
	b := uplog.New()
	b.Write([]byte("one "))
	b.Write([]byte("two"))

	var got []byte
	b.SetFlushHandler(func(p []byte) { got = append(got, p...) })
	b.Flush()

	assert.Equal(t, "one two", string(got))
	assert.Equal(t, 0, b.Len())
}

func TestBuffer_DropsOverflow(t *testing.T) {
	b := uplog.New()
	huge := bytes.Repeat([]byte{'x'}, uplog.Capacity+500)

	n, err := b.Write(huge)
	require.NoError(t, err)
	assert.Equal(t, len(huge), n, "writes never fail, dropped bytes included")
	assert.Equal(t, uplog.Capacity, b.Len())

	// Still full: nothing else fits.
	b.Write([]byte("more"))
	assert.Equal(t, uplog.Capacity, b.Len())
}

func TestBuffer_DisabledWritesAreDiscarded(t *testing.T) {
	b := uplog.New()
	b.Disable()
	b.Write([]byte("dropped"))
	assert.Equal(t, 0, b.Len())

	b.Enable()
	b.Write([]byte("kept"))
	assert.Equal(t, 4, b.Len())
}

func TestBuffer_FlushSuppressesReentrantLogging(t *testing.T) {
	b := uplog.New()
	b.Write([]byte("payload"))

	var sawDisabled bool
	b.SetFlushHandler(func(p []byte) {
		// A handler that writes back must not recurse into the buffer.
		sawDisabled = !b.Enabled()
		b.Write([]byte("echo"))
	})
	b.Flush()

	assert.True(t, sawDisabled, "logging should be off during the flush handler")
	assert.Equal(t, 0, b.Len(), "re-entrant write must be discarded")
	assert.True(t, b.Enabled(), "logging re-enabled after flush")
}

func TestBuffer_FlushWithoutHandlerKeepsBuffering(t *testing.T) {
	b := uplog.New()
	b.Write([]byte("kept"))
	b.Flush()
	assert.Equal(t, 4, b.Len())
}

func TestBuffer_AsyncFlushDrains(t *testing.T) {
	b := uplog.New()
	flushed := make(chan []byte, 1)
	b.SetFlushHandler(func(p []byte) {
		cp := append([]byte(nil), p...)
		select {
		case flushed <- cp:
		default:
		}
	})

	go b.Run()
	defer b.Close()

	b.Write([]byte("hello"))

	got := <-flushed
	assert.Equal(t, "hello", string(got))
}
