package zendesk

import (
	"context"
	"fmt"
	"time"

	"github.com/ajitpratap0/deskstream/pkg/clients"
	"github.com/ajitpratap0/deskstream/pkg/models"
	"go.uber.org/zap"
)

// Source owns the transport of one run together with its paginator.
type Source struct {
	*Paginator
	transport *clients.Transport
}

// Open creates the transport and paginator for one run. Close releases the
// transport's connections.
func Open(tcfg clients.TransportConfig, pcfg Config, logger *zap.Logger, opts ...clients.Option) (*Source, error) {
	transport, err := clients.NewTransport(tcfg, logger, opts...)
	if err != nil {
		return nil, err
	}
	return &Source{
		Paginator: NewPaginator(transport, pcfg, logger, time.Now),
		transport: transport,
	}, nil
}

// Transport returns the underlying transport.
func (s *Source) Transport() *clients.Transport {
	return s.transport
}

// Close releases the transport.
func (s *Source) Close() error {
	return s.transport.Close()
}

// Probe checks connectivity and credentials by reading a single ticket from
// the start of the lookback window. It returns nil, nil for an empty account.
func (s *Source) Probe(ctx context.Context) (*models.Ticket, error) {
	cfg := s.config
	cfg.PageSize = 1
	probe := NewPaginator(s.transport, cfg, s.logger, s.now)

	for item, err := range probe.Stream(ctx, Position{}) {
		if err != nil {
			return nil, fmt.Errorf("probe: %w", err)
		}
		return item.Ticket, nil
	}
	return nil, nil
}
