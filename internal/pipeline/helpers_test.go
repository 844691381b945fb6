package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/ajitpratap0/deskstream/pkg/checkpoint"
	"github.com/ajitpratap0/deskstream/pkg/clients"
	"github.com/ajitpratap0/deskstream/pkg/connector/sources/zendesk"
	"github.com/ajitpratap0/deskstream/pkg/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingStore keeps a copy of every saved checkpoint.
type recordingStore struct {
	checkpoint.Store

	mu    sync.Mutex
	saves []checkpoint.Checkpoint
}

func newRecordingStore(t *testing.T) *recordingStore {
	t.Helper()
	fs, err := checkpoint.NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return &recordingStore{Store: fs}
}

func (s *recordingStore) Save(ctx context.Context, key string, cp *checkpoint.Checkpoint) error {
	if err := s.Store.Save(ctx, key, cp); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, *cp)
	return nil
}

func (s *recordingStore) Saves() []checkpoint.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]checkpoint.Checkpoint(nil), s.saves...)
}

func (s *recordingStore) processedHistory() []int64 {
	var out []int64
	for _, cp := range s.Saves() {
		out = append(out, cp.Processed())
	}
	return out
}

// apiSource opens zendesk sources against the fake API without comments.
// Transport sleeps go to clock.
func apiSource(api *testutil.TicketAPI, clock *testutil.FakeClock) SourceFactory {
	return zendeskSource(api, clock, true)
}

func zendeskSource(api *testutil.TicketAPI, clock *testutil.FakeClock, skipComments bool) SourceFactory {
	return func(context.Context) (Stream, error) {
		tcfg := clients.DefaultTransportConfig()
		tcfg.BaseURL = api.URL()
		tcfg.Email = "ops@acme.test"
		tcfg.APIToken = "tok"
		tcfg.EnableHTTP2 = false

		pcfg := zendesk.DefaultConfig()
		pcfg.SkipComments = skipComments

		src, err := zendesk.Open(tcfg, pcfg, zap.NewNop(), clients.WithClock(clock))
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}

func uniqueIDs(ids []int64) map[int64]int {
	out := make(map[int64]int, len(ids))
	for _, id := range ids {
		out[id]++
	}
	return out
}
