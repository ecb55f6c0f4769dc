package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"clipstudio/internal/domain"
)

const sessionDocID = "preview"

type sessionDoc struct {
	ID               string `bson:"_id"`
	CurrentProjectID string `bson:"currentProjectId"`
	UpdatedAt        int64  `bson:"updatedAt"`
}

// SessionRepository stores the project the preview agent is attached to in
// a single upserted document.
type SessionRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewSessionRepository(client *mongo.Client, dbName string) *SessionRepository {
	return &SessionRepository{
		collection: client.Database(dbName).Collection("session"),
		now:        time.Now,
	}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *SessionRepository) GetCurrentProjectID(ctx context.Context) (domain.ProjectID, bool, error) {
	var doc sessionDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": sessionDocID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", false, nil
		}
		return "", false, err
	}
	id := domain.ProjectID(strings.TrimSpace(doc.CurrentProjectID))
	if id == "" {
		return "", false, nil
	}
	return id, true, nil
}

func (r *SessionRepository) SetCurrentProjectID(ctx context.Context, id domain.ProjectID) error {
	return r.setCurrent(ctx, strings.TrimSpace(string(id)))
}

// ClearCurrentProjectID keeps the document and blanks the id so the
// update timestamp still records when the session ended.
func (r *SessionRepository) ClearCurrentProjectID(ctx context.Context) error {
	return r.setCurrent(ctx, "")
}

func (r *SessionRepository) setCurrent(ctx context.Context, id string) error {
	_, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": sessionDocID},
		sessionUpdate(id, r.now()),
		options.Update().SetUpsert(true),
	)
	return err
}

func sessionUpdate(id string, now time.Time) bson.M {
	return bson.M{
		"$set": bson.M{
			"currentProjectId": id,
			"updatedAt":        now.Unix(),
		},
	}
}
