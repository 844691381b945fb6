package zendesk

import (
	"context"
	"testing"
	"time"

	"github.com/ajitpratap0/deskstream/pkg/clients"
	"github.com/ajitpratap0/deskstream/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestSource(t *testing.T, api *testutil.TicketAPI) *Source {
	t.Helper()
	cfg := clients.DefaultTransportConfig()
	cfg.BaseURL = api.URL()
	cfg.Email = "ops@acme.test"
	cfg.APIToken = "tok"
	cfg.EnableHTTP2 = false

	src, err := Open(cfg, DefaultConfig(), zap.NewNop(), clients.WithClock(testutil.NewFakeClock(time.Now())))
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })
	return src
}

func TestProbe(t *testing.T) {
	api := testutil.NewTicketAPI(t, 0, 10)
	api.Touch(9, time.Now())
	src := openTestSource(t, api)

	ticket, err := src.Probe(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, int64(9), ticket.ID)
	assert.Equal(t, "1", api.StreamRequests()[0].Get("per_page"))
}

func TestProbeEmptyAccount(t *testing.T) {
	api := testutil.NewTicketAPI(t, 0, 10)
	src := openTestSource(t, api)

	ticket, err := src.Probe(context.Background())
	require.NoError(t, err)
	assert.Nil(t, ticket)
}
