package rest_api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jmeggitt/netrange_summary.git/service"
	"github.com/prometheus/client_golang/prometheus"
)

const shutdownTimeout = 5 * time.Second

// RestApiService serves the state of the run over HTTP until the context is cancelled.
type RestApiService struct {
	addr         string
	defaultLimit int
	server       *http.Server
}

func NewRestApiService(addr string, defaultLimit int) *RestApiService {
	return &RestApiService{addr: addr, defaultLimit: defaultLimit}
}

func (restApi *RestApiService) Name() string {
	return "RestApiService"
}

func (restApi *RestApiService) Init(_ context.Context, state *service.ApplicationState) error {
	if state.Aggregator == nil {
		return errors.New("the REST API needs an aggregator to serve")
	}

	var gatherer prometheus.Gatherer
	if state.Registry != nil {
		gatherer = state.Registry
	}

	log.Info("Setting up REST API routes")
	router, err := NewRouter(DataRoute{View: state.Aggregator, DefaultLimit: restApi.defaultLimit}, gatherer)
	if err != nil {
		return err
	}

	restApi.server = &http.Server{
		Addr:              restApi.addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

func (restApi *RestApiService) Run(ctx context.Context, _ *service.ApplicationState) error {
	failed := make(chan error, 1)
	go func() {
		log.Info("Running REST API", "addr", restApi.addr)
		failed <- restApi.server.ListenAndServe()
	}()

	select {
	case err := <-failed:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := restApi.server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := <-failed; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
