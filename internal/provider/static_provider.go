// internal/provider/static_provider.go
package provider

import (
	"context"

	"github.com/google/uuid"
)

// StaticProvider always answers with a canned result. Handy for wiring up
// channels in environments without a real broker and for tests.
type StaticProvider struct {
	ProviderID string
	Fail       error // returned verbatim when set
	Response   string
}

func (p *StaticProvider) ID() string { return p.ProviderID }

func (p *StaticProvider) Send(ctx context.Context, recipientID, channel, content string) (*SendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Fail != nil {
		return nil, p.Fail
	}
	resp := p.Response
	if resp == "" {
		resp = "accepted"
	}
	return &SendResult{
		Success:           true,
		ProviderResponse:  resp,
		ProviderMessageID: uuid.New().String(),
	}, nil
}
