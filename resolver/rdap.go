package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/jmeggitt/netrange_summary.git/aggregator"
	"github.com/jmeggitt/netrange_summary.git/util"
	"golang.org/x/time/rate"
)

var ErrNotFound = errors.New("no network found for address")

// Responses larger than this are assumed to be broken
const rdapByteLimit = 1 << 20

type rdapNetwork struct {
	Handle       string `json:"handle"`
	StartAddress string `json:"startAddress"`
	EndAddress   string `json:"endAddress"`
	IpVersion    string `json:"ipVersion"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Country      string `json:"country"`
	ParentHandle string `json:"parentHandle"`
}

// RDAP resolves networks with the RDAP ip query of a registry. Requests are rate limited since registries throttle
// clients which query too quickly.
type RDAP struct {
	baseUrl    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewRDAP creates an RDAP resolver. A requestsPerSecond of zero or less disables rate limiting.
func NewRDAP(baseUrl string, requestsPerSecond float64, timeout time.Duration) *RDAP {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}

	return &RDAP{
		baseUrl:    strings.TrimSuffix(baseUrl, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
	}
}

func (rdap *RDAP) Resolve(ctx context.Context, addr netip.Addr) (resolution aggregator.Resolution, err error) {
	if err = rdap.limiter.Wait(ctx); err != nil {
		return
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, rdap.baseUrl+"/ip/"+addr.String(), nil)
	if err != nil {
		return
	}
	request.Header.Set("Accept", "application/rdap+json, application/json")

	response, err := rdap.httpClient.Do(request)
	if err != nil {
		return resolution, fmt.Errorf("RDAP request failed: %w", err)
	}
	defer util.CloseAndLogErrors("Error while closing HTTP response:", response.Body)

	switch {
	case response.StatusCode == http.StatusNotFound:
		return resolution, ErrNotFound
	case response.StatusCode != http.StatusOK:
		return resolution, fmt.Errorf("RDAP returned non-OK status: %d", response.StatusCode)
	}

	body, err := util.ReadAtMost(response.Body, rdapByteLimit)
	if err != nil {
		return resolution, fmt.Errorf("failed to read RDAP response: %w", err)
	}

	var network rdapNetwork
	if err = json.Unmarshal(body, &network); err != nil {
		return resolution, fmt.Errorf("failed to parse RDAP response: %w", err)
	}

	return network.resolution()
}

func (network rdapNetwork) resolution() (resolution aggregator.Resolution, err error) {
	if resolution.Start, err = netip.ParseAddr(network.StartAddress); err != nil {
		return resolution, fmt.Errorf("invalid RDAP start address: %w", err)
	}

	if resolution.End, err = netip.ParseAddr(network.EndAddress); err != nil {
		return resolution, fmt.Errorf("invalid RDAP end address: %w", err)
	}

	resolution.Info = aggregator.NetworkInfo{
		Handle:  network.Handle,
		Name:    network.Name,
		Country: network.Country,
		Source:  "rdap",
	}
	return
}
