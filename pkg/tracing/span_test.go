package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanTree(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "request", "abc")
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Go(func() {
			_, child := StartChildSpan(ctx, "step")
			child.SetAttr("i", i)
			child.End()
		})
	}
	wg.Wait()
	time.Sleep(2 * time.Millisecond)
	root.End()

	require.Len(t, root.children, 4)
	assert.Equal(t, "abc", root.children[0].TraceID)
	assert.Same(t, root, SpanFromContext(ctx))

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	assert.False(t, root.LogIfSlow(logger, time.Hour))
	assert.Zero(t, buf.Len())
	assert.True(t, root.LogIfSlow(logger, time.Millisecond))
	assert.Equal(t, 5, strings.Count(buf.String(), "slow span"))
}

func TestUntracedContext(t *testing.T) {
	ctx, span := StartChildSpan(context.Background(), "orphan")
	assert.Nil(t, span)
	assert.Nil(t, SpanFromContext(ctx))

	span.SetAttr("k", 1)
	span.End()
	assert.Zero(t, span.Duration())
	assert.False(t, span.LogIfSlow(slog.Default(), time.Nanosecond))
}
