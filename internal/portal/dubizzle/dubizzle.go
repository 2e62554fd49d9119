// Package dubizzle adapts Dubizzle lead webhooks, which are signed with
// hex(MD5(secret + rawBody)) in the X-dubizzle-Signature header.
package dubizzle

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/lead"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/portal"
)

const SignatureHeader = "X-dubizzle-Signature"

var (
	ErrNoSecret     = errors.New("dubizzle signing secret is not configured")
	ErrBadSignature = errors.New("invalid dubizzle signature")
)

type Config struct {
	SigningSecret   string
	DefaultName     string
	DefaultCurrency string
}

type Adapter struct {
	cfg Config
}

func New(cfg Config) *Adapter {
	if cfg.DefaultName == "" {
		cfg.DefaultName = "Dubizzle Lead"
	}
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Portal() lead.Portal { return lead.PortalDubizzle }

func (a *Adapter) Capabilities() portal.Capabilities {
	return portal.Capabilities{ListingPrice: true, SignedPayloads: true}
}

// Sign returns the signature Dubizzle sends for body.
func Sign(secret string, body []byte) string {
	h := md5.New()
	h.Write([]byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *Adapter) VerifyAuthenticity(header http.Header, body []byte) error {
	if a.cfg.SigningSecret == "" {
		return ErrNoSecret
	}
	got := strings.ToLower(strings.TrimSpace(header.Get(SignatureHeader)))
	want := Sign(a.cfg.SigningSecret, body)
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return ErrBadSignature
	}
	return nil
}

type envelope struct {
	Event string        `json:"event"`
	ID    portal.String `json:"id"`
}

func (a *Adapter) ParseEvent(body []byte) (*lead.Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding dubizzle webhook: %w", err)
	}
	kind := lead.KindCreated
	if strings.TrimSpace(env.Event) != "" {
		kind = lead.KindFromType(env.Event)
	}
	return &lead.Event{
		Portal:  lead.PortalDubizzle,
		Kind:    kind,
		EventID: env.ID.String(),
		Payload: body,
		Raw:     body,
	}, nil
}

type enquiry struct {
	Enquirer struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
		Email string `json:"email"`
	} `json:"enquirer"`
	Listing struct {
		Reference string        `json:"reference"`
		Title     string        `json:"title"`
		Price     portal.Number `json:"price"`
		Currency  string        `json:"currency"`
		URL       string        `json:"url"`
		Category  string        `json:"category"`
	} `json:"listing"`
	Channel   string `json:"channel"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

func (a *Adapter) Normalize(ev *lead.Event, en *portal.Enrichment) (*lead.Lead, error) {
	var src enquiry
	if err := portal.Decode(en.LeadBody(ev), &src); err != nil {
		return nil, fmt.Errorf("decoding dubizzle enquiry: %w", err)
	}
	out := &lead.Lead{
		Portal:           lead.PortalDubizzle,
		EventID:          ev.EventID,
		Name:             src.Enquirer.Name,
		Email:            src.Enquirer.Email,
		Phone:            src.Enquirer.Phone,
		Channel:          src.Channel,
		ListingReference: src.Listing.Reference,
		ListingTitle:     src.Listing.Title,
		Price:            src.Listing.Price.Value,
		Currency:         src.Listing.Currency,
		ResponseURL:      src.Listing.URL,
		EnquiredAt:       lead.ParseTime(src.CreatedAt),
		Message:          src.Message,
		Attributes: lead.Attributes{
			Category: src.Listing.Category,
		},
	}
	out.Finalize(a.cfg.DefaultName, a.cfg.DefaultCurrency)
	return out, nil
}
