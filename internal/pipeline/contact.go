package pipeline

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/crm"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/lead"
	apperrors "github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/logger"
)

type contactValue struct {
	Value   string `json:"value"`
	Primary bool   `json:"primary"`
}

func contactList(v string) []contactValue {
	if v == "" {
		return []contactValue{}
	}
	return []contactValue{{Value: v, Primary: true}}
}

// upsertContact finds the person by exact email, then exact phone, and
// updates it; otherwise it creates one. Work on one identity is serialized.
func (p *Pipeline) upsertContact(ctx context.Context, l *lead.Lead) (int64, error) {
	log := logger.FromContext(ctx)
	if key := l.ContactKey(); key != "" {
		unlock, err := p.locker.Lock(ctx, "contact:"+key)
		if err != nil {
			return 0, apperrors.Wrap(apperrors.ErrContact, http.StatusInternalServerError, err)
		}
		defer unlock()
	}

	id, err := p.findContact(ctx, l)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrContact, http.StatusInternalServerError, err)
	}

	if id != 0 {
		update := map[string]any{"name": l.Name}
		if l.Email != "" {
			update["email"] = contactList(l.Email)
		}
		if l.Phone != "" {
			update["phone"] = contactList(l.Phone)
		}
		if _, err := p.crm.Update(ctx, crm.ResourcePersons, id, update); err != nil {
			return 0, apperrors.Wrap(apperrors.ErrContact, http.StatusInternalServerError, fmt.Errorf("updating person %d: %w", id, err))
		}
		log.Info("contact updated", "person_id", id)
		return id, nil
	}

	rec, err := p.crm.Create(ctx, crm.ResourcePersons, map[string]any{
		"name":  l.Name,
		"email": contactList(l.Email),
		"phone": contactList(l.Phone),
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrContact, http.StatusInternalServerError, fmt.Errorf("creating person: %w", err))
	}
	log.Info("contact created", "person_id", rec.ID)
	return rec.ID, nil
}

// findContact returns the first exact hit, email before phone, or 0.
func (p *Pipeline) findContact(ctx context.Context, l *lead.Lead) (int64, error) {
	lookups := []struct {
		field string
		term  string
	}{
		{crm.FieldEmail, l.Email},
		{crm.FieldPhone, l.Phone},
	}
	for _, lk := range lookups {
		if lk.term == "" {
			continue
		}
		items, err := p.crm.Search(ctx, crm.ResourcePersons, lk.term, lk.field, true)
		if err != nil {
			return 0, fmt.Errorf("searching persons by %s: %w", lk.field, err)
		}
		if len(items) > 0 {
			return items[0].ID, nil
		}
	}
	return 0, nil
}
