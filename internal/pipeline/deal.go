package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/crm"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/lead"
	apperrors "github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/errors"
)

func (p *Pipeline) dealPayload(l *lead.Lead, personID int64) map[string]any {
	body := map[string]any{
		"title":     l.DealTitle(),
		"person_id": personID,
		"value":     l.Price,
		"currency":  l.Currency,
	}
	if p.opts.PipelineID > 0 {
		body["pipeline_id"] = p.opts.PipelineID
	}
	p.fields.Apply(body, l.FieldValues())
	return body
}

func (p *Pipeline) createDeal(ctx context.Context, l *lead.Lead, personID int64) (int64, error) {
	rec, err := p.crm.Create(ctx, crm.ResourceDeals, p.dealPayload(l, personID))
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDeal, http.StatusInternalServerError, err)
	}
	return rec.ID, nil
}

func (p *Pipeline) attachNote(ctx context.Context, l *lead.Lead, ev *lead.Event, personID, dealID int64) error {
	_, err := p.crm.Create(ctx, crm.ResourceNotes, map[string]any{
		"content":   noteContent(l, ev.Raw),
		"deal_id":   dealID,
		"person_id": personID,
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrNote, http.StatusInternalServerError, err)
	}
	return nil
}

// noteContent renders the human-readable summary followed by the raw
// webhook, pretty-printed when it is valid JSON.
func noteContent(l *lead.Lead, raw []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s lead</b><br>", html.EscapeString(string(l.Portal)))

	row := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "<b>%s:</b> %s<br>", label, html.EscapeString(value))
	}
	row("Name", l.Name)
	row("Email", l.Email)
	row("Phone", l.Phone)
	row("Channel", l.Channel)
	row("Listing", strings.TrimSpace(l.ListingTitle+" "+l.ListingReference))
	if l.Price > 0 {
		row("Price", strconv.FormatFloat(l.Price, 'f', -1, 64)+" "+l.Currency)
	}
	row("Agent", l.Agent.Name)
	row("Response link", l.ResponseURL)
	if l.EnquiredAt != nil {
		row("Enquired at", l.EnquiredAt.Format("2006-01-02 15:04 MST"))
	}
	row("Message", l.Message)
	row("Event id", l.EventID)

	payload := raw
	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		payload = pretty.Bytes()
	}
	fmt.Fprintf(&b, "<br><b>Raw event</b><pre>%s</pre>", html.EscapeString(string(payload)))
	return b.String()
}
