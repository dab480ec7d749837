package store

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/tidwall/sjson"
)

// EntityType splits the memory graph into short-lived extractions and
// long-lived consolidated facts.
type EntityType string

const (
	EntityEpisodic EntityType = "episodic"
	EntitySemantic EntityType = "semantic"
)

// Entity is one node of the memory graph.
type Entity struct {
	ID           int64
	Name         string
	Type         EntityType
	Category     string
	Importance   float64
	AccessCount  int
	Observations []string
	Embedding    []float32
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Relation is a directed edge between two entities.
type Relation struct {
	FromID int64
	ToID   int64
	Type   string
}

// CreateEntity inserts an entity with its embedding and relations in
// one transaction so a node is never visible without its vector.
func (s *Store) CreateEntity(e *Entity, relations []Relation) error {
	obs, err := json.Marshal(e.Observations)
	if err != nil {
		return fmt.Errorf("marshal observations: %w", err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	res, err := tx.Exec(
		`INSERT INTO mem_entities (name, entity_type, category, importance, access_count, observations, embedding, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Name, string(e.Type), e.Category, e.Importance, e.AccessCount, string(obs), encodeEmbedding(e.Embedding), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert entity: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("entity id: %w", err)
	}
	e.ID = id

	for _, r := range relations {
		from, to := r.FromID, r.ToID
		if from == 0 {
			from = id
		}
		if to == 0 {
			to = id
		}
		if _, err := tx.Exec(
			`INSERT INTO mem_relations (from_id, to_id, relation_type) VALUES (?, ?, ?)`,
			from, to, r.Type,
		); err != nil {
			return fmt.Errorf("insert relation: %w", err)
		}
	}
	return tx.Commit()
}

// UpdateEntity rewrites an entity's mutable fields and replaces its
// embedding.
func (s *Store) UpdateEntity(e *Entity) error {
	obs, err := json.Marshal(e.Observations)
	if err != nil {
		return fmt.Errorf("marshal observations: %w", err)
	}
	e.UpdatedAt = time.Now().UTC()
	if _, err := s.db.Exec(
		`UPDATE mem_entities SET name = ?, entity_type = ?, category = ?, importance = ?, access_count = ?, observations = ?, embedding = ?, updated_at = ? WHERE id = ?`,
		e.Name, string(e.Type), e.Category, e.Importance, e.AccessCount, string(obs), encodeEmbedding(e.Embedding), e.UpdatedAt, e.ID,
	); err != nil {
		return fmt.Errorf("update entity: %w", err)
	}
	return nil
}

// EntityByName finds an entity by its (name, type) key.
func (s *Store) EntityByName(name string, typ EntityType) (*Entity, error) {
	row := s.db.QueryRow(
		`SELECT id, name, entity_type, category, importance, access_count, observations, embedding, created_at, updated_at
		 FROM mem_entities WHERE name = ? AND entity_type = ?`, name, string(typ))
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// EntitiesByType returns entities of one type, most important first.
// A zero minImportance returns everything.
func (s *Store) EntitiesByType(typ EntityType, minImportance float64) ([]*Entity, error) {
	rows, err := s.db.Query(
		`SELECT id, name, entity_type, category, importance, access_count, observations, embedding, created_at, updated_at
		 FROM mem_entities WHERE entity_type = ? AND importance >= ? ORDER BY importance DESC, updated_at DESC`,
		string(typ), minImportance)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

// AllEntities returns the whole graph, used by maintenance and vector
// retrieval.
func (s *Store) AllEntities() ([]*Entity, error) {
	rows, err := s.db.Query(
		`SELECT id, name, entity_type, category, importance, access_count, observations, embedding, created_at, updated_at
		 FROM mem_entities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

// AddObservations appends observations to an existing entity without
// rereading the whole JSON array.
func (s *Store) AddObservations(id int64, observations []string) error {
	var current string
	err := s.db.QueryRow(`SELECT observations FROM mem_entities WHERE id = ?`, id).Scan(&current)
	if err != nil {
		return fmt.Errorf("read observations: %w", err)
	}
	for _, o := range observations {
		current, err = sjson.Set(current, "-1", o)
		if err != nil {
			return fmt.Errorf("append observation: %w", err)
		}
	}
	if _, err := s.db.Exec(
		`UPDATE mem_entities SET observations = ?, updated_at = ? WHERE id = ?`,
		current, time.Now().UTC(), id,
	); err != nil {
		return fmt.Errorf("write observations: %w", err)
	}
	return nil
}

// TouchEntities bumps access counts for retrieved entities.
func (s *Store) TouchEntities(ids []int64) error {
	for _, id := range ids {
		if _, err := s.db.Exec(`UPDATE mem_entities SET access_count = access_count + 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("touch entity: %w", err)
		}
	}
	return nil
}

// DeleteEntities removes entities and, via cascade, their relations.
func (s *Store) DeleteEntities(ids []int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.Exec(`DELETE FROM mem_relations WHERE from_id = ? OR to_id = ?`, id, id); err != nil {
			return fmt.Errorf("delete relations: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM mem_entities WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete entity: %w", err)
		}
	}
	return tx.Commit()
}

// DeleteEntityByName removes one entity by its (name, type) key.
func (s *Store) DeleteEntityByName(name string, typ EntityType) error {
	e, err := s.EntityByName(name, typ)
	if err != nil {
		return err
	}
	if e == nil {
		return nil
	}
	return s.DeleteEntities([]int64{e.ID})
}

// CreateRelation inserts a single resolved edge.
func (s *Store) CreateRelation(r Relation) error {
	if _, err := s.db.Exec(
		`INSERT INTO mem_relations (from_id, to_id, relation_type) VALUES (?, ?, ?)`,
		r.FromID, r.ToID, r.Type,
	); err != nil {
		return fmt.Errorf("insert relation: %w", err)
	}
	return nil
}

// DeleteRelation removes a single edge.
func (s *Store) DeleteRelation(r Relation) error {
	if _, err := s.db.Exec(
		`DELETE FROM mem_relations WHERE from_id = ? AND to_id = ? AND relation_type = ?`,
		r.FromID, r.ToID, r.Type,
	); err != nil {
		return fmt.Errorf("delete relation: %w", err)
	}
	return nil
}

// RelationCount returns the number of edges touching an entity.
func (s *Store) RelationCount(id int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM mem_relations WHERE from_id = ? OR to_id = ?`, id, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count relations: %w", err)
	}
	return n, nil
}

// Relations returns all edges touching an entity.
func (s *Store) Relations(id int64) ([]Relation, error) {
	rows, err := s.db.Query(`SELECT from_id, to_id, relation_type FROM mem_relations WHERE from_id = ? OR to_id = ?`, id, id)
	if err != nil {
		return nil, fmt.Errorf("query relations: %w", err)
	}
	defer rows.Close()
	var out []Relation
	for rows.Next() {
		var r Relation
		if err := rows.Scan(&r.FromID, &r.ToID, &r.Type); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanEntity(row rowScanner) (*Entity, error) {
	var (
		e    Entity
		typ  string
		obs  string
		blob []byte
	)
	if err := row.Scan(&e.ID, &e.Name, &typ, &e.Category, &e.Importance, &e.AccessCount, &obs, &blob, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan entity: %w", err)
	}
	e.Type = EntityType(typ)
	if err := json.Unmarshal([]byte(obs), &e.Observations); err != nil {
		return nil, fmt.Errorf("unmarshal observations: %w", err)
	}
	e.Embedding = decodeEmbedding(blob)
	return &e, nil
}

func scanEntities(rows *sql.Rows) ([]*Entity, error) {
	var out []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// encodeEmbedding packs a vector as little-endian float32 bytes.
func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeEmbedding(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
