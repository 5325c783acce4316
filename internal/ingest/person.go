package ingest

import (
	"context"
	"strings"

	"crm_ingest_backend/platform/logger"

	"github.com/google/uuid"
)

// fallbackPersonName is used when a payload carries no usable name.
const fallbackPersonName = "Contato sem nome"

// PersonInput is what the resolver knows about the contact behind an event.
type PersonInput struct {
	FullName    string
	PhoneE164   string
	RawPhone    string
	Email       string
	CPFDigits   string
	CNPJDigits  string
	OwnerUserID *uuid.UUID
}

// PersonResolver finds or creates the CRM person for an inbound lead.
//
// Strategies run in a fixed priority order and the chain stops at the first
// hit: government documents (CPF, then CNPJ) are the strongest identity
// signal, contact details (phone, then email) come next, and creation is
// the terminal fallback. A lookup that fails with a schema-missing
// classification counts as "not found" and the chain proceeds; any other
// lookup error aborts the event.
type PersonResolver struct {
	store PersonStore
	log   *logger.Logger
}

// NewPersonResolver creates a person resolver.
func NewPersonResolver(store PersonStore, log *logger.Logger) *PersonResolver {
	return &PersonResolver{store: store, log: log}
}

type personStrategy struct {
	name string
	run  func(ctx context.Context, in PersonInput) (uuid.UUID, bool, error)
}

func (r *PersonResolver) strategies() []personStrategy {
	return []personStrategy{
		{name: "cpf", run: func(ctx context.Context, in PersonInput) (uuid.UUID, bool, error) {
			if in.CPFDigits == "" {
				return uuid.Nil, false, nil
			}
			return r.store.FindPersonByCPF(ctx, in.CPFDigits)
		}},
		{name: "cnpj", run: func(ctx context.Context, in PersonInput) (uuid.UUID, bool, error) {
			if in.CNPJDigits == "" {
				return uuid.Nil, false, nil
			}
			return r.store.FindPersonByCNPJ(ctx, in.CNPJDigits)
		}},
		{name: "phone", run: func(ctx context.Context, in PersonInput) (uuid.UUID, bool, error) {
			if in.PhoneE164 == "" {
				return uuid.Nil, false, nil
			}
			return r.store.FindPersonByPhone(ctx, in.PhoneE164)
		}},
		{name: "email", run: func(ctx context.Context, in PersonInput) (uuid.UUID, bool, error) {
			if in.Email == "" {
				return uuid.Nil, false, nil
			}
			return r.store.FindPersonByEmail(ctx, strings.ToLower(in.Email))
		}},
	}
}

// Resolve runs the strategy chain and returns a typed Resolution.
func (r *PersonResolver) Resolve(ctx context.Context, in PersonInput) (Resolution, error) {
	for _, strategy := range r.strategies() {
		id, found, err := strategy.run(ctx, in)
		if err != nil {
			if IsSchemaMissing(err) {
				// The lookup table may not exist in this deployment.
				r.log.Warn("person lookup degraded to not-found", "strategy", strategy.name, "error", err.Error())
				continue
			}
			return Resolution{}, err
		}
		if found {
			return Resolution{Outcome: OutcomeFound, PersonID: id, Strategy: strategy.name}, nil
		}
	}

	id, err := r.create(ctx, in)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Outcome: OutcomeCreated, PersonID: id, Strategy: "create"}, nil
}

// create inserts a new person. The first attempt includes owner/creator
// attribution columns; when that fails with a schema-missing
// classification, a reduced field set is retried once.
func (r *PersonResolver) create(ctx context.Context, in PersonInput) (uuid.UUID, error) {
	person := NewPerson{
		FullName:  strings.TrimSpace(in.FullName),
		CreatedBy: in.OwnerUserID,
	}
	if person.FullName == "" {
		person.FullName = fallbackPersonName
	}
	if in.PhoneE164 != "" {
		v := in.PhoneE164
		person.PhoneE164 = &v
	}
	if in.Email != "" {
		v := strings.ToLower(in.Email)
		person.Email = &v
	}
	if doc := firstNonEmpty(in.CPFDigits, in.CNPJDigits); doc != "" {
		person.DocumentID = &doc
	}

	id, err := r.store.InsertPerson(ctx, person, true)
	if err == nil {
		return id, nil
	}
	if !IsSchemaMissing(err) {
		return uuid.Nil, err
	}

	r.log.Warn("person insert: retrying without attribution columns", "error", err.Error())
	return r.store.InsertPerson(ctx, person, false)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
