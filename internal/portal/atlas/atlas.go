// Package atlas adapts Property Finder's Atlas push API. Webhooks usually
// carry only a lead id, so the adapter is enrichable through the Atlas read
// API.
package atlas

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/lead"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/portal"
)

// APIKeyHeader carries the optional inbound shared secret.
const APIKeyHeader = "x-api-key"

var ErrBadAPIKey = errors.New("missing or invalid x-api-key")

type Config struct {
	// WebhookSecret, when set, must arrive in the x-api-key header.
	WebhookSecret   string
	DefaultName     string
	DefaultCurrency string
}

type Adapter struct {
	cfg      Config
	enricher portal.Enricher
}

// New returns the Atlas adapter. A nil enricher disables upstream lookups;
// the embedded payload is then the only source.
func New(cfg Config, enricher portal.Enricher) *Adapter {
	if cfg.DefaultName == "" {
		cfg.DefaultName = "Property Finder Lead"
	}
	return &Adapter{cfg: cfg, enricher: enricher}
}

func (a *Adapter) Portal() lead.Portal { return lead.PortalAtlas }

func (a *Adapter) Capabilities() portal.Capabilities {
	return portal.Capabilities{AgentData: true, ListingPrice: true}
}

func (a *Adapter) Enricher() portal.Enricher { return a.enricher }

func (a *Adapter) VerifyAuthenticity(header http.Header, _ []byte) error {
	if a.cfg.WebhookSecret == "" {
		return nil
	}
	got := header.Get(APIKeyHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(a.cfg.WebhookSecret)) != 1 {
		return ErrBadAPIKey
	}
	return nil
}

type webhook struct {
	ID     portal.String `json:"id"`
	Type   string        `json:"type"`
	Entity *struct {
		ID   portal.String `json:"id"`
		Type string        `json:"type"`
	} `json:"entity"`
	Payload json.RawMessage `json:"payload"`
	// Flat shape sent by the first integration: contact fields at the top
	// level and no event type.
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func (a *Adapter) ParseEvent(body []byte) (*lead.Event, error) {
	var w webhook
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("decoding atlas webhook: %w", err)
	}
	ev := &lead.Event{
		Portal:  lead.PortalAtlas,
		Kind:    lead.KindFromType(w.Type),
		EventID: w.ID.String(),
		Payload: w.Payload,
		Raw:     body,
	}
	if w.Entity != nil {
		ev.LeadID = w.Entity.ID.String()
	}
	if ev.LeadID == "" && len(w.Payload) > 0 {
		var ref struct {
			ID portal.String `json:"id"`
		}
		if json.Unmarshal(w.Payload, &ref) == nil {
			ev.LeadID = ref.ID.String()
		}
	}
	if w.Type == "" && w.Entity == nil && len(w.Payload) == 0 && (w.Name != "" || w.Email != "" || w.Phone != "") {
		ev.Kind = lead.KindCreated
		ev.Payload = body
	}
	return ev, nil
}

type contact struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type atlasLead struct {
	ID        portal.String `json:"id"`
	Channel   string        `json:"channel"`
	CreatedAt string        `json:"createdAt"`
	Message   string        `json:"message"`
	Sender    struct {
		Name     string    `json:"name"`
		Contacts []contact `json:"contacts"`
	} `json:"sender"`
	Listing struct {
		ID        portal.String `json:"id"`
		Reference string        `json:"reference"`
	} `json:"listing"`
	PublicProfile struct {
		ID portal.String `json:"id"`
	} `json:"publicProfile"`
	ResponseLink string `json:"responseLink"`

	Name      string        `json:"name"`
	Email     string        `json:"email"`
	Phone     string        `json:"phone"`
	ListingID portal.String `json:"listing_id"`
	Budget    portal.Number `json:"budget"`
	Currency  string        `json:"currency"`
}

func (l *atlasLead) contact(kind string) string {
	for _, c := range l.Sender.Contacts {
		if strings.EqualFold(c.Type, kind) && strings.TrimSpace(c.Value) != "" {
			return c.Value
		}
	}
	return ""
}

type atlasUser struct {
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Email         string `json:"email"`
	Mobile        string `json:"mobile"`
	PublicProfile struct {
		ID    portal.String `json:"id"`
		Name  string        `json:"name"`
		Phone string        `json:"phone"`
		Email string        `json:"email"`
	} `json:"publicProfile"`
}

type atlasListing struct {
	ID        portal.String `json:"id"`
	Reference string        `json:"reference"`
	Title     struct {
		En string `json:"en"`
	} `json:"title"`
	Price struct {
		Type    string                   `json:"type"`
		Amounts map[string]portal.Number `json:"amounts"`
	} `json:"price"`
	Bedrooms           portal.String `json:"bedrooms"`
	Size               portal.Number `json:"size"`
	FurnishingType     string        `json:"furnishingType"`
	Category           string        `json:"category"`
	Type               string        `json:"type"`
	VerificationStatus string        `json:"verificationStatus"`
	QualityScore       struct {
		Value portal.Number `json:"value"`
	} `json:"qualityScore"`
	Products json.RawMessage `json:"products"`
}

// amount picks the price for the listing's offering type, falling back to
// the first non-zero amount in a fixed order.
func (l *atlasListing) amount() float64 {
	if n, ok := l.Price.Amounts[l.Price.Type]; ok && n.Valid {
		return n.Value
	}
	for _, k := range []string{"sale", "yearly", "monthly", "weekly", "daily"} {
		if n, ok := l.Price.Amounts[k]; ok && n.Valid && n.Value != 0 {
			return n.Value
		}
	}
	return 0
}

func (a *Adapter) References(body json.RawMessage) portal.References {
	var l atlasLead
	if portal.Decode(body, &l) != nil {
		return portal.References{}
	}
	listingID := l.Listing.ID.String()
	if listingID == "" {
		listingID = l.ListingID.String()
	}
	return portal.References{UserID: l.PublicProfile.ID.String(), ListingID: listingID}
}

func (a *Adapter) Normalize(ev *lead.Event, en *portal.Enrichment) (*lead.Lead, error) {
	var src atlasLead
	if err := portal.Decode(en.LeadBody(ev), &src); err != nil {
		return nil, fmt.Errorf("decoding atlas lead: %w", err)
	}
	out := &lead.Lead{
		Portal:           lead.PortalAtlas,
		EventID:          ev.EventID,
		Name:             firstNonEmpty(src.Sender.Name, src.Name),
		Email:            firstNonEmpty(src.contact("email"), src.Email),
		Phone:            firstNonEmpty(src.contact("phone"), src.Phone),
		Channel:          src.Channel,
		ListingReference: src.Listing.Reference,
		ResponseURL:      src.ResponseLink,
		EnquiredAt:       lead.ParseTime(src.CreatedAt),
		WhatsApp:         src.contact("whatsapp"),
		Message:          src.Message,
		Currency:         src.Currency,
	}
	if out.ListingReference == "" {
		out.ListingReference = src.ListingID.String()
	}
	if src.Budget.Valid {
		out.Price = src.Budget.Value
	}

	if en != nil && len(en.User) > 0 {
		var u atlasUser
		if err := portal.Decode(en.User, &u); err != nil {
			return nil, fmt.Errorf("decoding atlas user: %w", err)
		}
		out.Agent = lead.Agent{
			Name:     firstNonEmpty(u.PublicProfile.Name, strings.TrimSpace(u.FirstName+" "+u.LastName)),
			Phone:    firstNonEmpty(u.PublicProfile.Phone, u.Mobile),
			Email:    firstNonEmpty(u.PublicProfile.Email, u.Email),
			PortalID: u.PublicProfile.ID.String(),
		}
	}
	if out.Agent.PortalID == "" {
		out.Agent.PortalID = src.PublicProfile.ID.String()
	}

	if en != nil && len(en.Listing) > 0 {
		var l atlasListing
		if err := portal.Decode(en.Listing, &l); err != nil {
			return nil, fmt.Errorf("decoding atlas listing: %w", err)
		}
		out.ListingTitle = l.Title.En
		if l.Reference != "" {
			out.ListingReference = l.Reference
		}
		if p := l.amount(); p != 0 {
			out.Price = p
		}
		out.Attributes = lead.Attributes{
			Bedrooms:           l.Bedrooms.String(),
			Size:               l.Size.Ptr(),
			Furnishing:         l.FurnishingType,
			Category:           l.Category,
			PropertyType:       l.Type,
			VerificationStatus: l.VerificationStatus,
			QualityScore:       l.QualityScore.Value.Ptr(),
			Product:            productLabel(l.Products),
		}
	}

	out.Finalize(a.cfg.DefaultName, a.cfg.DefaultCurrency)
	return out, nil
}

// productLabel flattens the listing's promoted products, sent either as a
// list of names or as an object keyed by name.
func productLabel(raw json.RawMessage) string {
	var names []string
	if portal.Decode(raw, &names) == nil && len(names) > 0 {
		return strings.Join(names, ", ")
	}
	var byName map[string]json.RawMessage
	if portal.Decode(raw, &byName) == nil && len(byName) > 0 {
		for k := range byName {
			names = append(names, k)
		}
		sort.Strings(names)
		return strings.Join(names, ", ")
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
