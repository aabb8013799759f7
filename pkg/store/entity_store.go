package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/medialib/curator/pkg/models"
)

// EntityStore persists the shared performer/tag/studio entities. Entities
// are referenced by scenes but have independent lifetimes.
type EntityStore struct {
	db *sqlx.DB
}

// NewEntityStore creates an entity store.
func NewEntityStore(db *sqlx.DB) *EntityStore {
	return &EntityStore{db: db}
}

// --- performers ---

// ListPerformers returns all performers with aliases loaded.
func (s *EntityStore) ListPerformers(ctx context.Context) ([]models.Performer, error) {
	var performers []models.Performer
	if err := s.db.SelectContext(ctx, &performers,
		`SELECT id, name, last_synced FROM performers ORDER BY name`); err != nil {
		return nil, fmt.Errorf("listing performers: %w", err)
	}
	if err := s.loadAliases(ctx, performers); err != nil {
		return nil, err
	}
	return performers, nil
}

// PerformersByIDs returns the performers with the given IDs, keyed by ID.
func (s *EntityStore) PerformersByIDs(ctx context.Context, ids []string) (map[string]models.Performer, error) {
	out := make(map[string]models.Performer, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var performers []models.Performer
	query, args, err := sqlx.In(`SELECT id, name, last_synced FROM performers WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("building performer query: %w", err)
	}
	if err := s.db.SelectContext(ctx, &performers, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("querying performers: %w", err)
	}
	for _, p := range performers {
		out[p.ID] = p
	}
	return out, nil
}

// UpsertPerformer inserts or updates a performer and its aliases. Returns
// true when newly created.
func (s *EntityStore) UpsertPerformer(ctx context.Context, p *models.Performer) (bool, error) {
	if p.ID == "" || p.Name == "" {
		return false, NewValidationError("performer", "id and name are required")
	}
	var created bool
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO performers (id, name, last_synced) VALUES ($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, last_synced = EXCLUDED.last_synced
		RETURNING (xmax = 0)`,
		p.ID, p.Name, orNow(p.LastSynced),
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("upserting performer %s: %w", p.ID, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM performer_aliases WHERE performer_id = $1`, p.ID); err != nil {
		return created, fmt.Errorf("clearing aliases for %s: %w", p.ID, err)
	}
	for _, alias := range p.Aliases {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO performer_aliases (performer_id, alias) VALUES ($1,$2)
			ON CONFLICT DO NOTHING`, p.ID, alias); err != nil {
			return created, fmt.Errorf("inserting alias for %s: %w", p.ID, err)
		}
	}
	return created, nil
}

// --- tags ---

// ListTags returns all tags.
func (s *EntityStore) ListTags(ctx context.Context) ([]models.Tag, error) {
	var tags []models.Tag
	if err := s.db.SelectContext(ctx, &tags,
		`SELECT id, name, parent_id, last_synced FROM tags ORDER BY name`); err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	return tags, nil
}

// TagsByIDs returns the tags with the given IDs, keyed by ID.
func (s *EntityStore) TagsByIDs(ctx context.Context, ids []string) (map[string]models.Tag, error) {
	out := make(map[string]models.Tag, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var tags []models.Tag
	query, args, err := sqlx.In(`SELECT id, name, parent_id, last_synced FROM tags WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("building tag query: %w", err)
	}
	if err := s.db.SelectContext(ctx, &tags, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("querying tags: %w", err)
	}
	for _, t := range tags {
		out[t.ID] = t
	}
	return out, nil
}

// UpsertTag inserts or updates a tag. Returns true when newly created.
func (s *EntityStore) UpsertTag(ctx context.Context, t *models.Tag) (bool, error) {
	if t.ID == "" || t.Name == "" {
		return false, NewValidationError("tag", "id and name are required")
	}
	var created bool
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tags (id, name, parent_id, last_synced) VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			parent_id = EXCLUDED.parent_id,
			last_synced = EXCLUDED.last_synced
		RETURNING (xmax = 0)`,
		t.ID, t.Name, t.ParentID, orNow(t.LastSynced),
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("upserting tag %s: %w", t.ID, err)
	}
	return created, nil
}

// --- studios ---

// ListStudios returns all studios.
func (s *EntityStore) ListStudios(ctx context.Context) ([]models.Studio, error) {
	var studios []models.Studio
	if err := s.db.SelectContext(ctx, &studios,
		`SELECT id, name, parent_id, last_synced FROM studios ORDER BY name`); err != nil {
		return nil, fmt.Errorf("listing studios: %w", err)
	}
	return studios, nil
}

// StudiosByIDs returns the studios with the given IDs, keyed by ID.
func (s *EntityStore) StudiosByIDs(ctx context.Context, ids []string) (map[string]models.Studio, error) {
	out := make(map[string]models.Studio, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var studios []models.Studio
	query, args, err := sqlx.In(`SELECT id, name, parent_id, last_synced FROM studios WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("building studio query: %w", err)
	}
	if err := s.db.SelectContext(ctx, &studios, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("querying studios: %w", err)
	}
	for _, st := range studios {
		out[st.ID] = st
	}
	return out, nil
}

// UpsertStudio inserts or updates a studio. Returns true when newly created.
func (s *EntityStore) UpsertStudio(ctx context.Context, st *models.Studio) (bool, error) {
	if st.ID == "" || st.Name == "" {
		return false, NewValidationError("studio", "id and name are required")
	}
	var created bool
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO studios (id, name, parent_id, last_synced) VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			parent_id = EXCLUDED.parent_id,
			last_synced = EXCLUDED.last_synced
		RETURNING (xmax = 0)`,
		st.ID, st.Name, st.ParentID, orNow(st.LastSynced),
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("upserting studio %s: %w", st.ID, err)
	}
	return created, nil
}

// --- helpers ---

func (s *EntityStore) loadAliases(ctx context.Context, performers []models.Performer) error {
	if len(performers) == 0 {
		return nil
	}
	ids := make([]string, len(performers))
	index := make(map[string]*models.Performer, len(performers))
	for i := range performers {
		ids[i] = performers[i].ID
		index[performers[i].ID] = &performers[i]
	}
	var rows []struct {
		PerformerID string `db:"performer_id"`
		Alias       string `db:"alias"`
	}
	query, args, err := sqlx.In(
		`SELECT performer_id, alias FROM performer_aliases WHERE performer_id IN (?) ORDER BY alias`, ids)
	if err != nil {
		return fmt.Errorf("building alias query: %w", err)
	}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("loading aliases: %w", err)
	}
	for _, r := range rows {
		p := index[r.PerformerID]
		p.Aliases = append(p.Aliases, r.Alias)
	}
	return nil
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
