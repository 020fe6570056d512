package diag

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/paircloud/internal/model"
)

func TestErrorLog_CapAndOrder(t *testing.T) {
	t.Parallel()
	l := NewErrorLog(0, zaptest.NewLogger(t))
	for i := 0; i < 15; i++ {
		l.Record(model.ErrorKindTransport, fmt.Sprintf("e%d", i))
	}
	got := l.Entries()
	require.Len(t, got, DefaultCapacity)
	require.Equal(t, "e14", got[0].Description)
	require.Equal(t, "e5", got[len(got)-1].Description)
}

func TestErrorLog_Observer(t *testing.T) {
	t.Parallel()
	l := NewErrorLog(3, nil)
	var seen []string
	l.SetObserver(func(e model.ErrorLogEntry) { seen = append(seen, e.Description) })
	l.Record(model.ErrorKindCommand, "a")
	l.SetObserver(nil)
	l.Record(model.ErrorKindCommand, "b")
	require.Equal(t, []string{"a"}, seen)
	require.Equal(t, 2, l.Len())
}

func TestErrorLog_Concurrent(t *testing.T) {
	t.Parallel()
	l := NewErrorLog(10, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record(model.ErrorKindTransport, "x")
			_ = l.Entries()
		}()
	}
	wg.Wait()
	require.Equal(t, 10, l.Len())
}
