package util

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSpanConcurrently(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, span := StartSpan(context.Background(), "settle")
			span.End()
			assert.NotNil(t, GetLogger())
		}()
	}
	wg.Wait()

	assert.NotNil(t, GetTracer())
}

func TestInitTracerRecordsSpans(t *testing.T) {
	tp, err := InitTracer("invoice-service", "test", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := StartSpan(context.Background(), "capture")
	defer span.End()

	assert.True(t, span.SpanContext().IsValid())
	assert.True(t, span.IsRecording())
}
