package repository

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cadence-diary-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type UserRepository interface {
	Find(id string) (*domain.User, error)
	// Insert creates the user record, or reseeds the login-pattern history of
	// a thin record left over from an interrupted bootstrap.
	Insert(user *domain.User) error
	AppendLoginPattern(id string, pattern domain.TypingPattern) error
	AppendNotePattern(id string, pattern domain.TypingPattern) error
}

type userRepository struct {
	client *kivik.Client
	dbName string
}

func NewUserRepository(client *kivik.Client, dbName string) UserRepository {
	return &userRepository{
		client: client,
		dbName: dbName,
	}
}

func userDocID(id string) string {
	return fmt.Sprintf("user:%s", id)
}

func (r *userRepository) Find(id string) (*domain.User, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(context.Background(), userDocID(id))

	var user domain.User
	if err := row.ScanDoc(&user); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	return &user, nil
}

func (r *userRepository) Insert(user *domain.User) error {
	db := r.client.DB(r.dbName)
	docID := userDocID(user.ID)

	var existing map[string]interface{}
	row := db.Get(context.Background(), docID)
	if err := row.ScanDoc(&existing); err == nil {
		existing["id_patterns"] = user.IDPatterns
		existing["updated_at"] = time.Now()
		if _, err := db.Put(context.Background(), docID, existing); err != nil {
			return fmt.Errorf("failed to reseed user: %w", err)
		}
		return nil
	} else if kivik.HTTPStatus(err) != http.StatusNotFound {
		return fmt.Errorf("failed to check existing user: %w", err)
	}

	if _, err := db.Put(context.Background(), docID, user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (r *userRepository) AppendLoginPattern(id string, pattern domain.TypingPattern) error {
	return r.appendPattern(id, "id_patterns", pattern)
}

func (r *userRepository) AppendNotePattern(id string, pattern domain.TypingPattern) error {
	return r.appendPattern(id, "note_patterns", pattern)
}

func (r *userRepository) appendPattern(id, field string, pattern domain.TypingPattern) error {
	db := r.client.DB(r.dbName)
	docID := userDocID(id)

	var existing map[string]interface{}
	row := db.Get(context.Background(), docID)
	if err := row.ScanDoc(&existing); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return domain.ErrUserNotFound
		}
		return fmt.Errorf("failed to fetch user for pattern append: %w", err)
	}

	patterns, _ := existing[field].([]interface{})
	existing[field] = append(patterns, string(pattern))
	existing["updated_at"] = time.Now()

	if _, err := db.Put(context.Background(), docID, existing); err != nil {
		return fmt.Errorf("failed to append %s: %w", field, err)
	}

	return nil
}
