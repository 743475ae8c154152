package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"securebus/internal/constants"
)

// EnsureSubjectCollections creates the indexes the data-subject store relies on.
// Collections themselves are created on first insert.
func EnsureSubjectCollections(ctx context.Context, db *mongo.Database) error {
	records := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "subject_id", Value: 1}, {Key: "recorded_at", Value: -1}},
			Options: options.Index().SetName("idx_subject_records_subject_recorded"),
		},
		{
			Keys:    bson.D{{Key: "message_id", Value: 1}},
			Options: options.Index().SetName("idx_subject_records_message_id").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "topic", Value: 1}},
			Options: options.Index().SetName("idx_subject_records_topic"),
		},
	}

	requests := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "subject_id", Value: 1}, {Key: "completed_at", Value: -1}},
			Options: options.Index().SetName("idx_subject_requests_subject_completed"),
		},
		{
			Keys:    bson.D{{Key: "request_id", Value: 1}},
			Options: options.Index().SetName("idx_subject_requests_request_id").SetUnique(true),
		},
	}

	if err := createIndexes(ctx, db.Collection(constants.SubjectRecordsCollection), records); err != nil {
		return err
	}
	return createIndexes(ctx, db.Collection(constants.SubjectRequestsCollection), requests)
}

func createIndexes(ctx context.Context, collection *mongo.Collection, indexes []mongo.IndexModel) error {
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create indexes on %s: %w", collection.Name(), err)
		}
	}
	return nil
}
