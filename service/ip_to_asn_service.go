package service

import (
	"context"
)

// IpToAsnService keeps a downloaded CAIDA mapping current for long running servers.
type IpToAsnService struct{}

func (IpToAsnService) Name() string {
	return "IpToAsnService"
}

func (IpToAsnService) Init(context.Context, *ApplicationState) error {
	return nil
}

func (IpToAsnService) Run(ctx context.Context, state *ApplicationState) error {
	if state.IpToAsn != nil {
		state.IpToAsn.Maintain(ctx)
	}
	return nil
}
