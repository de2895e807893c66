package service

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/jmeggitt/netrange_summary.git/aggregator"
	"github.com/jmeggitt/netrange_summary.git/asn"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// ApplicationState is shared between services. Services filling a field during Init must be initialized before the
// services that read it.
type ApplicationState struct {
	Aggregator *aggregator.Aggregator
	Registry   *prometheus.Registry
	// IpToAsn is only set when networks are resolved from the CAIDA datasets
	IpToAsn *asn.IpToAsn
}

func InitApplicationState() *ApplicationState {
	return &ApplicationState{Registry: prometheus.NewRegistry()}
}

type Service interface {
	// Name provides the name of the service. This is only used for logging.
	Name() string

	// Init sets up the state of this service
	Init(ctx context.Context, state *ApplicationState) error

	// Run performs the work of the service. It should return promptly once the context is cancelled.
	Run(ctx context.Context, state *ApplicationState) error
}

// InitServices initializes services in order, stopping at the first failure.
func InitServices(ctx context.Context, state *ApplicationState, services []Service) error {
	log.Info("Performing initialization", "services", len(services))

	for _, service := range services {
		log.Info("Initializing service", "name", service.Name())

		if err := service.Init(ctx, state); err != nil {
			return fmt.Errorf("failed to initialize service %s: %w", service.Name(), err)
		}
	}

	return nil
}

// RunServices runs every service concurrently and waits for all of them to return. The first failure cancels the
// others.
func RunServices(ctx context.Context, state *ApplicationState, services []Service) error {
	log.Info("Starting services", "services", len(services))
	group, groupCtx := errgroup.WithContext(ctx)

	for _, service := range services {
		group.Go(func() error {
			log.Info("Starting service", "name", service.Name())

			if err := service.Run(groupCtx, state); err != nil {
				return fmt.Errorf("service %s failed: %w", service.Name(), err)
			}

			log.Info("Service finished", "name", service.Name())
			return nil
		})
	}

	return group.Wait()
}
