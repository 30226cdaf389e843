package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/solatis/badgekeeper/internal/types"
)

// Parameter types a template may declare.
const (
	ParamNumber  = "number"
	ParamString  = "string"
	ParamBoolean = "boolean"
	ParamArray   = "array"
)

// TemplateParameter describes one substitutable value in a template.
type TemplateParameter struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Default any      `json:"default,omitempty"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Enum    []string `json:"enum,omitempty"`
}

// Template is a reusable rule skeleton. Template holds the rule tree JSON
// with parameter placeholders; it is stored verbatim.
type Template struct {
	ID          string
	Name        string
	Description string
	Template    json.RawMessage
	Parameters  []TemplateParameter
	IsSystem    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type templateRow struct {
	TemplateID   string    `db:"template_id"`
	Name         string    `db:"name"`
	Description  string    `db:"description"`
	TemplateJSON string    `db:"template_json"`
	Parameters   string    `db:"parameters"`
	IsSystem     bool      `db:"is_system"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r *templateRow) template() (*Template, error) {
	var params []TemplateParameter
	if err := json.Unmarshal([]byte(r.Parameters), &params); err != nil {
		return nil, fmt.Errorf("template %s: invalid parameters: %w", r.TemplateID, err)
	}
	return &Template{
		ID:          r.TemplateID,
		Name:        r.Name,
		Description: r.Description,
		Template:    json.RawMessage(r.TemplateJSON),
		Parameters:  params,
		IsSystem:    r.IsSystem,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

// Validate checks name, template JSON and parameter declarations.
func (t *Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidTemplate)
	}
	if len(t.Template) == 0 || !json.Valid(t.Template) {
		return fmt.Errorf("%w: template '%s' body is not valid JSON", ErrInvalidTemplate, t.Name)
	}

	seen := make(map[string]bool, len(t.Parameters))
	for _, p := range t.Parameters {
		if p.Name == "" {
			return fmt.Errorf("%w: template '%s' has a parameter without a name", ErrInvalidTemplate, t.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: template '%s' declares parameter '%s' twice", ErrInvalidTemplate, t.Name, p.Name)
		}
		seen[p.Name] = true

		switch p.Type {
		case ParamNumber, ParamString, ParamBoolean, ParamArray:
		default:
			return fmt.Errorf("%w: parameter '%s' has unknown type '%s'", ErrInvalidTemplate, p.Name, p.Type)
		}
		if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
			return fmt.Errorf("%w: parameter '%s' min exceeds max", ErrInvalidTemplate, p.Name)
		}
	}
	return nil
}

// TemplateRepository persists rule templates. System templates are read-only.
type TemplateRepository struct {
	q   *Queries
	now func() time.Time
}

// NewTemplateRepository creates a repository over loaded queries.
func NewTemplateRepository(q *Queries) *TemplateRepository {
	return &TemplateRepository{
		q:   q,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Create validates and inserts t, assigning a new id and timestamps.
func (r *TemplateRepository) Create(ctx context.Context, t *Template) (*Template, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	params, err := encodeParameters(t.Parameters)
	if err != nil {
		return nil, err
	}

	now := r.now()
	out := *t
	out.ID = types.NewTemplateID()
	out.CreatedAt = now
	out.UpdatedAt = now

	_, err = r.q.Exec(ctx, "insert-template",
		out.ID, out.Name, out.Description, string(out.Template), params,
		out.IsSystem, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create template %s: %w", out.Name, err)
	}
	return &out, nil
}

// Get returns the template with id.
func (r *TemplateRepository) Get(ctx context.Context, id string) (*Template, error) {
	var row templateRow
	err := r.q.Get(ctx, "get-template", &row, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template %s: %w", id, err)
	}
	return row.template()
}

// List returns all templates ordered by name.
func (r *TemplateRepository) List(ctx context.Context) ([]*Template, error) {
	var rows []templateRow
	if err := r.q.Select(ctx, "list-templates", &rows); err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	out := make([]*Template, 0, len(rows))
	for i := range rows {
		t, err := rows[i].template()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Update replaces name, description, body and parameters of a user template.
func (r *TemplateRepository) Update(ctx context.Context, t *Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	params, err := encodeParameters(t.Parameters)
	if err != nil {
		return err
	}

	res, err := r.q.Exec(ctx, "update-template",
		t.Name, t.Description, string(t.Template), params, r.now(),
		t.ID, false,
	)
	if err != nil {
		return fmt.Errorf("failed to update template %s: %w", t.ID, err)
	}
	return r.checkWritable(ctx, res, t.ID)
}

// Delete removes a user template.
func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	res, err := r.q.Exec(ctx, "delete-template", id, false)
	if err != nil {
		return fmt.Errorf("failed to delete template %s: %w", id, err)
	}
	return r.checkWritable(ctx, res, id)
}

// checkWritable explains a write that touched no rows: either the
// template is missing or it is a system template.
func (r *TemplateRepository) checkWritable(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	existing, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing.IsSystem {
		return fmt.Errorf("%w: %s", ErrSystemTemplate, existing.Name)
	}
	return fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
}

func encodeParameters(params []TemplateParameter) (string, error) {
	if params == nil {
		params = []TemplateParameter{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode parameters: %w", err)
	}
	return string(data), nil
}
