package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"cadence-diary-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// SessionRepository is the ephemeral key-value store holding per-session
// trust state. Sessions live in their own database so they can be compacted
// aggressively without touching user data; expiry is enforced on read.
type SessionRepository interface {
	Create(session *domain.Session) error
	Find(id string) (*domain.Session, error)
	Update(session *domain.Session) error
	Destroy(id string) error
}

type sessionRepository struct {
	client *kivik.Client
	dbName string
}

func NewSessionRepository(client *kivik.Client, dbName string) SessionRepository {
	return &sessionRepository{
		client: client,
		dbName: dbName,
	}
}

func sessionDocID(id string) string {
	return fmt.Sprintf("session:%s", id)
}

func (r *sessionRepository) Create(session *domain.Session) error {
	db := r.client.DB(r.dbName)

	if _, err := db.Put(context.Background(), sessionDocID(session.ID), session); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

func (r *sessionRepository) Find(id string) (*domain.Session, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(context.Background(), sessionDocID(id))

	var session domain.Session
	if err := row.ScanDoc(&session); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	if session.Expired(time.Now()) {
		// Best effort cleanup; an expired session is absent either way.
		r.Destroy(id)
		return nil, domain.ErrSessionNotFound
	}

	return &session, nil
}

func (r *sessionRepository) Update(session *domain.Session) error {
	db := r.client.DB(r.dbName)
	docID := sessionDocID(session.ID)

	var existing map[string]interface{}
	row := db.Get(context.Background(), docID)
	if err := row.ScanDoc(&existing); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return domain.ErrSessionNotFound
		}
		return fmt.Errorf("failed to fetch session for update: %w", err)
	}

	doc, err := sessionDoc(session)
	if err != nil {
		return err
	}
	doc["_id"] = existing["_id"]
	doc["_rev"] = existing["_rev"]

	if _, err := db.Put(context.Background(), docID, doc); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	return nil
}

func (r *sessionRepository) Destroy(id string) error {
	db := r.client.DB(r.dbName)
	docID := sessionDocID(id)

	var existing map[string]interface{}
	row := db.Get(context.Background(), docID)
	if err := row.ScanDoc(&existing); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("failed to fetch session for destroy: %w", err)
	}

	rev, _ := existing["_rev"].(string)
	if _, err := db.Delete(context.Background(), docID, rev); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}

	return nil
}

func sessionDoc(session *domain.Session) (map[string]interface{}, error) {
	raw, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode session doc: %w", err)
	}

	return doc, nil
}
