package ingest

import (
	"context"

	"crm_ingest_backend/platform/logger"

	"github.com/google/uuid"
)

// PropertyResolver maps an external listing reference onto an internal
// property. References come in two flavors: our own primary keys (agencies
// embed them in listing exports) and provider-side listing ids that go
// through the cross-reference table.
type PropertyResolver struct {
	store PropertyStore
	log   *logger.Logger
}

// NewPropertyResolver creates a property resolver.
func NewPropertyResolver(store PropertyStore, log *logger.Logger) *PropertyResolver {
	return &PropertyResolver{store: store, log: log}
}

// Resolve looks up the property for a payload's listing reference. A
// missing or unknown reference returns an empty match; leads may arrive
// unattached to any listing. Schema-missing lookup errors also degrade to
// an empty match; anything else is fatal.
func (r *PropertyResolver) Resolve(ctx context.Context, provider, reference string) (PropertyMatch, error) {
	if reference == "" {
		return PropertyMatch{}, nil
	}

	if id, err := uuid.Parse(reference); err == nil {
		match, found, err := r.store.GetPropertyByID(ctx, id)
		if err != nil {
			if IsSchemaMissing(err) {
				r.log.Warn("property lookup degraded to not-found", "reference", reference)
				return PropertyMatch{ExternalID: reference}, nil
			}
			return PropertyMatch{}, err
		}
		if found {
			match.ExternalID = reference
			return match, nil
		}
		return PropertyMatch{ExternalID: reference}, nil
	}

	match, found, err := r.store.FindPropertyByListing(ctx, provider, reference)
	if err != nil {
		if IsSchemaMissing(err) {
			r.log.Warn("portal listing lookup degraded to not-found", "reference", reference)
			return PropertyMatch{ExternalID: reference}, nil
		}
		return PropertyMatch{}, err
	}
	if !found {
		return PropertyMatch{ExternalID: reference}, nil
	}
	match.ExternalID = reference
	return match, nil
}
