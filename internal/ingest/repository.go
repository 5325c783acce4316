package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"crm_ingest_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres error codes the pipeline classifies. Everything else stays
// opaque and fatal.
const (
	pgUniqueViolation = "23505"
	pgUndefinedColumn = "42703"
	pgUndefinedTable  = "42P01"
)

var (
	undefinedColumnRe = regexp.MustCompile(`column "([^"]+)"`)
	undefinedTableRe  = regexp.MustCompile(`relation "([^"]+)"`)
)

// classify maps driver errors into the two recoverable classes the pipeline
// understands. Non-pg errors and other SQLSTATEs pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		return &ConflictError{Constraint: pgErr.ConstraintName}
	case pgUndefinedColumn:
		object := pgErr.ColumnName
		if object == "" {
			if m := undefinedColumnRe.FindStringSubmatch(pgErr.Message); m != nil {
				object = m[1]
			}
		}
		return &SchemaMissingError{Object: object}
	case pgUndefinedTable:
		object := pgErr.TableName
		if object == "" {
			if m := undefinedTableRe.FindStringSubmatch(pgErr.Message); m != nil {
				object = m[1]
			}
		}
		return &SchemaMissingError{Object: object}
	default:
		return err
	}
}

// Repository is the pgx-backed Store implementation.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates the ingest repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

// Ping satisfies the router's health check.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// ---- Event ledger ----

const eventColumns = `id, provider, external_event_id, idempotency_key, event_type, payload, headers, status, processing_result, error_message, received_at, processed_at`

func (r *Repository) InsertEvent(ctx context.Context, event InboundEvent) (InboundEvent, bool, error) {
	headers, err := json.Marshal(event.Headers)
	if err != nil {
		return InboundEvent{}, false, fmt.Errorf("marshal headers: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO webhook_events (id, provider, external_event_id, idempotency_key, event_type, payload, headers, status, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, event.ID, event.Provider, event.ExternalEventID, event.IdempotencyKey, event.EventType, event.Payload, headers, event.Status, event.ReceivedAt)
	if err != nil {
		classified := classify(err)
		if conflict, ok := AsConflict(classified); ok && conflict.Constraint == ConstraintEventIdempotency {
			// Duplicate delivery. Return the original row untouched; this
			// attempt never becomes durable state.
			original, findErr := r.findEventByKey(ctx, event.Provider, event.IdempotencyKey)
			if findErr != nil {
				return InboundEvent{}, false, findErr
			}
			return original, true, nil
		}
		return InboundEvent{}, false, classified
	}

	return event, false, nil
}

func (r *Repository) findEventByKey(ctx context.Context, provider, key string) (InboundEvent, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM webhook_events
		WHERE provider = $1 AND idempotency_key = $2
	`, provider, key)
	return scanEvent(row)
}

func (r *Repository) GetEvent(ctx context.Context, id uuid.UUID) (InboundEvent, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM webhook_events
		WHERE id = $1
	`, id)
	event, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return InboundEvent{}, apperr.NotFound("event not found")
	}
	return event, err
}

func (r *Repository) ListEvents(ctx context.Context, provider string, status EventStatus, limit, offset int) ([]InboundEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM webhook_events`
	var conditions []string
	var args []any
	if provider != "" {
		args = append(args, provider)
		conditions = append(conditions, fmt.Sprintf("provider = $%d", len(args)))
	}
	if status != "" {
		args = append(args, status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY received_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var events []InboundEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// markTerminal performs the single allowed status transition. A row that is
// no longer 'received' is already terminal and must not change again.
func (r *Repository) markTerminal(ctx context.Context, id uuid.UUID, status EventStatus, result *ProcessingResult, message *string) error {
	var resultJSON []byte
	if result != nil {
		encoded, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal processing result: %w", err)
		}
		resultJSON = encoded
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE webhook_events
		SET status = $2, processing_result = $3, error_message = $4, processed_at = now()
		WHERE id = $1 AND status = 'received'
	`, id, status, resultJSON, message)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %s is already in a terminal state", id)
	}
	return nil
}

func (r *Repository) MarkEventProcessed(ctx context.Context, id uuid.UUID, result ProcessingResult) error {
	return r.markTerminal(ctx, id, StatusProcessed, &result, nil)
}

func (r *Repository) MarkEventIgnored(ctx context.Context, id uuid.UUID) error {
	return r.markTerminal(ctx, id, StatusIgnored, nil, nil)
}

func (r *Repository) MarkEventError(ctx context.Context, id uuid.UUID, message string) error {
	return r.markTerminal(ctx, id, StatusError, nil, &message)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (InboundEvent, error) {
	var event InboundEvent
	var headers []byte
	var result []byte
	err := row.Scan(
		&event.ID, &event.Provider, &event.ExternalEventID, &event.IdempotencyKey,
		&event.EventType, &event.Payload, &headers, &event.Status,
		&result, &event.ErrorMessage, &event.ReceivedAt, &event.ProcessedAt,
	)
	if err != nil {
		return InboundEvent{}, err
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &event.Headers); err != nil {
			return InboundEvent{}, fmt.Errorf("unmarshal headers: %w", err)
		}
	}
	if len(result) > 0 {
		event.ProcessingResult = &ProcessingResult{}
		if err := json.Unmarshal(result, event.ProcessingResult); err != nil {
			return InboundEvent{}, fmt.Errorf("unmarshal processing result: %w", err)
		}
	}
	return event, nil
}

// ---- Integrations ----

func (r *Repository) GetIntegration(ctx context.Context, provider string) (Integration, error) {
	var integration Integration
	err := r.pool.QueryRow(ctx, `
		SELECT provider, display_name, token_hash, enabled, updated_at
		FROM portal_integrations
		WHERE provider = $1
	`, provider).Scan(
		&integration.Provider, &integration.DisplayName, &integration.TokenHash,
		&integration.Enabled, &integration.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Integration{}, apperr.NotFound("unknown provider")
	}
	if err != nil {
		return Integration{}, classify(err)
	}
	return integration, nil
}

func (r *Repository) ListIntegrations(ctx context.Context) ([]Integration, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT provider, display_name, token_hash, enabled, updated_at
		FROM portal_integrations
		ORDER BY provider
	`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var list []Integration
	for rows.Next() {
		var integration Integration
		if err := rows.Scan(
			&integration.Provider, &integration.DisplayName, &integration.TokenHash,
			&integration.Enabled, &integration.UpdatedAt,
		); err != nil {
			return nil, err
		}
		list = append(list, integration)
	}
	return list, rows.Err()
}

func (r *Repository) SetIntegrationEnabled(ctx context.Context, provider string, enabled bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE portal_integrations SET enabled = $2, updated_at = now()
		WHERE provider = $1
	`, provider, enabled)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("unknown provider")
	}
	return nil
}

// ---- Lead links ----

const linkColumns = `id, provider, external_lead_id, external_conversation_id, lead_fingerprint, lead_id, property_id, created_at, updated_at`

func (r *Repository) FindLinkByExternalLeadID(ctx context.Context, provider, externalLeadID string) (LeadLink, bool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+linkColumns+`
		FROM portal_lead_links
		WHERE provider = $1 AND external_lead_id = $2
	`, provider, externalLeadID)
	return scanLink(row)
}

func (r *Repository) FindLinkByFingerprint(ctx context.Context, provider, fingerprint string) (LeadLink, bool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+linkColumns+`
		FROM portal_lead_links
		WHERE provider = $1 AND lead_fingerprint = $2
	`, provider, fingerprint)
	return scanLink(row)
}

func scanLink(row rowScanner) (LeadLink, bool, error) {
	var link LeadLink
	err := row.Scan(
		&link.ID, &link.Provider, &link.ExternalLeadID, &link.ExternalConversationID,
		&link.Fingerprint, &link.LeadID, &link.PropertyID, &link.CreatedAt, &link.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return LeadLink{}, false, nil
	}
	if err != nil {
		return LeadLink{}, false, classify(err)
	}
	return link, true, nil
}

func (r *Repository) InsertLink(ctx context.Context, link LeadLink) (LeadLink, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO portal_lead_links (id, provider, external_lead_id, external_conversation_id, lead_fingerprint, lead_id, property_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, link.ID, link.Provider, link.ExternalLeadID, link.ExternalConversationID,
		link.Fingerprint, link.LeadID, link.PropertyID,
	).Scan(&link.CreatedAt, &link.UpdatedAt)
	if err != nil {
		return LeadLink{}, classify(err)
	}
	return link, nil
}

func (r *Repository) UpdateLinkRefs(ctx context.Context, id uuid.UUID, externalLeadID, conversationID *string, propertyID *uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE portal_lead_links
		SET external_lead_id = COALESCE($2, external_lead_id),
		    external_conversation_id = COALESCE($3, external_conversation_id),
		    property_id = COALESCE($4, property_id),
		    updated_at = now()
		WHERE id = $1
	`, id, externalLeadID, conversationID, propertyID)
	return classify(err)
}

// ---- People ----

func (r *Repository) FindPersonByCPF(ctx context.Context, cpfDigits string) (uuid.UUID, bool, error) {
	return r.scanPersonID(r.pool.QueryRow(ctx, `
		SELECT person_id FROM financing_profiles WHERE cpf_digits = $1
	`, cpfDigits))
}

func (r *Repository) FindPersonByCNPJ(ctx context.Context, cnpjDigits string) (uuid.UUID, bool, error) {
	return r.scanPersonID(r.pool.QueryRow(ctx, `
		SELECT person_id FROM company_profiles WHERE cnpj_digits = $1
	`, cnpjDigits))
}

func (r *Repository) FindPersonByPhone(ctx context.Context, phoneE164 string) (uuid.UUID, bool, error) {
	return r.scanPersonID(r.pool.QueryRow(ctx, `
		SELECT id FROM people WHERE phone_e164 = $1 ORDER BY created_at LIMIT 1
	`, phoneE164))
}

func (r *Repository) FindPersonByEmail(ctx context.Context, email string) (uuid.UUID, bool, error) {
	return r.scanPersonID(r.pool.QueryRow(ctx, `
		SELECT id FROM people WHERE lower(email) = lower($1) ORDER BY created_at LIMIT 1
	`, email))
}

func (r *Repository) scanPersonID(row rowScanner) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := row.Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, classify(err)
	}
	return id, true, nil
}

func (r *Repository) InsertPerson(ctx context.Context, person NewPerson, withAttribution bool) (uuid.UUID, error) {
	var id uuid.UUID
	var err error
	if withAttribution {
		err = r.pool.QueryRow(ctx, `
			INSERT INTO people (full_name, phone_e164, email, document_id, owner_profile_id, created_by)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, person.FullName, person.PhoneE164, person.Email, person.DocumentID,
			person.OwnerProfileID, person.CreatedBy,
		).Scan(&id)
	} else {
		err = r.pool.QueryRow(ctx, `
			INSERT INTO people (full_name, phone_e164, email, document_id)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, person.FullName, person.PhoneE164, person.Email, person.DocumentID).Scan(&id)
	}
	if err != nil {
		return uuid.Nil, classify(err)
	}
	return id, nil
}

// ---- Properties and reference data ----

func (r *Repository) GetPropertyByID(ctx context.Context, id uuid.UUID) (PropertyMatch, bool, error) {
	var match PropertyMatch
	var propertyID uuid.UUID
	err := r.pool.QueryRow(ctx, `
		SELECT id, title, owner_user_id FROM properties WHERE id = $1
	`, id).Scan(&propertyID, &match.Title, &match.OwnerUserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return PropertyMatch{}, false, nil
	}
	if err != nil {
		return PropertyMatch{}, false, classify(err)
	}
	match.PropertyID = &propertyID
	return match, true, nil
}

func (r *Repository) FindPropertyByListing(ctx context.Context, provider, externalListingID string) (PropertyMatch, bool, error) {
	var match PropertyMatch
	var propertyID uuid.UUID
	err := r.pool.QueryRow(ctx, `
		SELECT p.id, p.title, p.owner_user_id
		FROM property_portal_listings l
		JOIN properties p ON p.id = l.property_id
		WHERE l.provider = $1 AND l.external_listing_id = $2
	`, provider, externalListingID).Scan(&propertyID, &match.Title, &match.OwnerUserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return PropertyMatch{}, false, nil
	}
	if err != nil {
		return PropertyMatch{}, false, classify(err)
	}
	match.PropertyID = &propertyID
	return match, true, nil
}

func (r *Repository) FindLeadSourceBySlug(ctx context.Context, slug string) (*uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		SELECT id FROM lead_sources WHERE slug = $1
	`, slug).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &id, nil
}

func (r *Repository) FindDefaultPipeline(ctx context.Context) (*uuid.UUID, *uuid.UUID, error) {
	var pipelineID uuid.UUID
	var stageID *uuid.UUID
	err := r.pool.QueryRow(ctx, `
		SELECT p.id, s.id
		FROM pipelines p
		LEFT JOIN LATERAL (
			SELECT id FROM pipeline_stages
			WHERE pipeline_id = p.id
			ORDER BY position ASC
			LIMIT 1
		) s ON true
		WHERE p.is_default = true
		LIMIT 1
	`).Scan(&pipelineID, &stageID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, classify(err)
	}
	return &pipelineID, stageID, nil
}

// ---- Leads ----

func (r *Repository) InsertLeadRow(ctx context.Context, columns []LeadColumn) (uuid.UUID, error) {
	names := make([]string, 0, len(columns))
	placeholders := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns))
	for i, col := range columns {
		names = append(names, col.Name)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, col.Value)
	}

	// Column names come from the writer's fixed field list, never from
	// request input.
	query := fmt.Sprintf(
		"INSERT INTO leads (%s) VALUES (%s) RETURNING id",
		strings.Join(names, ", "),
		strings.Join(placeholders, ", "),
	)

	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return uuid.Nil, classify(err)
	}
	return id, nil
}

func (r *Repository) DeleteLead(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM leads WHERE id = $1`, id)
	return classify(err)
}

func (r *Repository) AppendAuditLog(ctx context.Context, entry LeadAuditEntry) error {
	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO lead_audit_logs (lead_id, event_id, action, detail)
		VALUES ($1, $2, $3, $4)
	`, entry.LeadID, entry.EventID, entry.Action, detail)
	return classify(err)
}
