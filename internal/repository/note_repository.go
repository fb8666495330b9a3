package repository

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cadence-diary-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// counterRetries bounds the optimistic-write loop in NextIndex. Contention is
// only ever two tabs of the same user, so a handful of attempts is plenty.
const counterRetries = 5

type NoteRepository interface {
	FindByID(id string) (*domain.Note, error)
	FindByIndex(userID string, index int64) (*domain.Note, error)
	Upsert(note *domain.Note) error
	// Page returns up to limit notes with index strictly below beforeIndex,
	// sorted by index descending.
	Page(userID string, beforeIndex int64, limit int) ([]*domain.Note, error)
	// NextIndex atomically reserves the next index in the user's sequence
	// via a rev-conditional counter write with bounded retry.
	NextIndex(userID string) (int64, error)
	// EnsureIndexes creates the Mango index Page sorts on. Idempotent.
	EnsureIndexes(ctx context.Context) error
}

type noteRepository struct {
	client *kivik.Client
	dbName string
}

func NewNoteRepository(client *kivik.Client, dbName string) NoteRepository {
	return &noteRepository{
		client: client,
		dbName: dbName,
	}
}

func noteDocID(id string) string {
	return fmt.Sprintf("note:%s", id)
}

func (r *noteRepository) FindByID(id string) (*domain.Note, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(context.Background(), noteDocID(id))

	var note domain.Note
	if err := row.ScanDoc(&note); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, domain.ErrNoteNotFound
		}
		return nil, fmt.Errorf("failed to find note: %w", err)
	}

	return &note, nil
}

func (r *noteRepository) FindByIndex(userID string, index int64) (*domain.Note, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"user_id": userID,
			"idx":     index,
		},
		"limit": 1,
	}

	rows := db.Find(context.Background(), query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query note by index: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, domain.ErrNoteNotFound
	}

	var note domain.Note
	if err := rows.ScanDoc(&note); err != nil {
		return nil, fmt.Errorf("failed to scan note: %w", err)
	}

	return &note, nil
}

func (r *noteRepository) Upsert(note *domain.Note) error {
	db := r.client.DB(r.dbName)
	docID := noteDocID(note.ID)

	var existing map[string]interface{}
	row := db.Get(context.Background(), docID)
	if err := row.ScanDoc(&existing); err != nil {
		if kivik.HTTPStatus(err) != http.StatusNotFound {
			return fmt.Errorf("failed to fetch existing note: %w", err)
		}
		if _, err := db.Put(context.Background(), docID, note); err != nil {
			return fmt.Errorf("failed to create note: %w", err)
		}
		return nil
	}

	existing["content"] = note.Content
	existing["date_updated"] = note.DateUpdated

	if _, err := db.Put(context.Background(), docID, existing); err != nil {
		return fmt.Errorf("failed to update note: %w", err)
	}

	return nil
}

// pageQuery builds the Mango query for one page. The explicit limit and the
// descending sort on the indexed fields matter: without them _find serves an
// arbitrary 25-doc window in doc-id order, which can silently drop notes.
func pageQuery(userID string, beforeIndex int64, limit int) map[string]interface{} {
	return map[string]interface{}{
		"selector": map[string]interface{}{
			"user_id": userID,
			"idx":     map[string]interface{}{"$lt": beforeIndex},
		},
		"sort": []map[string]interface{}{
			{"user_id": "desc"},
			{"idx": "desc"},
		},
		"limit": limit,
	}
}

func (r *noteRepository) Page(userID string, beforeIndex int64, limit int) ([]*domain.Note, error) {
	db := r.client.DB(r.dbName)

	rows := db.Find(context.Background(), pageQuery(userID, beforeIndex, limit))
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query notes page: %w", err)
	}
	defer rows.Close()

	var notes []*domain.Note
	for rows.Next() {
		var note domain.Note
		if err := rows.ScanDoc(&note); err != nil {
			continue
		}
		notes = append(notes, &note)
	}

	return notes, nil
}

// EnsureIndexes creates the user_id+idx Mango index backing Page's sort.
func (r *noteRepository) EnsureIndexes(ctx context.Context) error {
	db := r.client.DB(r.dbName)

	index := map[string]interface{}{
		"fields": []map[string]interface{}{
			{"user_id": "desc"},
			{"idx": "desc"},
		},
	}
	if err := db.CreateIndex(ctx, "notes-by-index", "notes-by-index", index); err != nil {
		return fmt.Errorf("failed to create notes index: %w", err)
	}

	return nil
}

func (r *noteRepository) NextIndex(userID string) (int64, error) {
	db := r.client.DB(r.dbName)
	docID := fmt.Sprintf("notectr:%s", userID)

	for attempt := 0; attempt < counterRetries; attempt++ {
		var counter map[string]interface{}
		row := db.Get(context.Background(), docID)
		err := row.ScanDoc(&counter)

		if err != nil {
			if kivik.HTTPStatus(err) != http.StatusNotFound {
				return 0, fmt.Errorf("failed to read note counter: %w", err)
			}
			counter = map[string]interface{}{"user_id": userID, "value": float64(0)}
		}

		value, _ := counter["value"].(float64)
		next := int64(value) + 1
		counter["value"] = next
		counter["updated_at"] = time.Now()

		_, err = db.Put(context.Background(), docID, counter)
		if err == nil {
			return next, nil
		}
		if kivik.HTTPStatus(err) != http.StatusConflict {
			return 0, fmt.Errorf("failed to write note counter: %w", err)
		}
		// Lost the race with a concurrent creation; re-read and retry.
	}

	return 0, fmt.Errorf("note counter contention for user %s", userID)
}
