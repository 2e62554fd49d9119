// Package bayut adapts Bayut lead webhooks. The body carries the full
// enquirer, agent and listing, so there is nothing to enrich and nothing
// to verify.
package bayut

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/lead"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/portal"
)

type Config struct {
	DefaultName     string
	DefaultCurrency string
}

type Adapter struct {
	cfg Config
}

func New(cfg Config) *Adapter {
	if cfg.DefaultName == "" {
		cfg.DefaultName = "Bayut Lead"
	}
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Portal() lead.Portal { return lead.PortalBayut }

func (a *Adapter) Capabilities() portal.Capabilities {
	return portal.Capabilities{AgentData: true, ListingPrice: true}
}

func (a *Adapter) VerifyAuthenticity(http.Header, []byte) error { return nil }

type envelope struct {
	Event string        `json:"event"`
	ID    portal.String `json:"id"`
}

func (a *Adapter) ParseEvent(body []byte) (*lead.Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding bayut webhook: %w", err)
	}
	kind := lead.KindCreated
	if strings.TrimSpace(env.Event) != "" {
		kind = lead.KindFromType(env.Event)
	}
	return &lead.Event{
		Portal:  lead.PortalBayut,
		Kind:    kind,
		EventID: env.ID.String(),
		Payload: body,
		Raw:     body,
	}, nil
}

type enquiry struct {
	Enquirer struct {
		Name        string `json:"name"`
		PhoneNumber string `json:"phone_number"`
		Email       string `json:"email"`
		ContactLink string `json:"contact_link"`
	} `json:"enquirer"`
	Agent struct {
		Name  string        `json:"name"`
		Phone string        `json:"phone"`
		Email string        `json:"email"`
		ID    portal.String `json:"id"`
	} `json:"agent"`
	Listing struct {
		Reference  string        `json:"reference"`
		Title      string        `json:"title"`
		Price      portal.Number `json:"price"`
		Currency   string        `json:"currency"`
		Bedrooms   portal.String `json:"bedrooms"`
		Size       portal.Number `json:"size"`
		Furnishing string        `json:"furnishing"`
		Category   string        `json:"category"`
		Type       string        `json:"type"`
		URL        string        `json:"url"`
	} `json:"listing"`
	Channel    string `json:"channel"`
	Message    string `json:"message"`
	ReceivedAt string `json:"received_at"`
}

func (a *Adapter) Normalize(ev *lead.Event, en *portal.Enrichment) (*lead.Lead, error) {
	var src enquiry
	if err := portal.Decode(en.LeadBody(ev), &src); err != nil {
		return nil, fmt.Errorf("decoding bayut enquiry: %w", err)
	}
	responseURL := src.Enquirer.ContactLink
	if responseURL == "" {
		responseURL = src.Listing.URL
	}
	out := &lead.Lead{
		Portal:           lead.PortalBayut,
		EventID:          ev.EventID,
		Name:             src.Enquirer.Name,
		Email:            src.Enquirer.Email,
		Phone:            src.Enquirer.PhoneNumber,
		Channel:          src.Channel,
		ListingReference: src.Listing.Reference,
		ListingTitle:     src.Listing.Title,
		Price:            src.Listing.Price.Value,
		Currency:         src.Listing.Currency,
		ResponseURL:      responseURL,
		EnquiredAt:       lead.ParseTime(src.ReceivedAt),
		Message:          src.Message,
		Agent: lead.Agent{
			Name:     src.Agent.Name,
			Phone:    src.Agent.Phone,
			Email:    src.Agent.Email,
			PortalID: src.Agent.ID.String(),
		},
		Attributes: lead.Attributes{
			Bedrooms:     src.Listing.Bedrooms.String(),
			Size:         src.Listing.Size.Ptr(),
			Furnishing:   src.Listing.Furnishing,
			Category:     src.Listing.Category,
			PropertyType: src.Listing.Type,
		},
	}
	out.Finalize(a.cfg.DefaultName, a.cfg.DefaultCurrency)
	return out, nil
}
