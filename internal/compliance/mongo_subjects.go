package compliance

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"securebus/internal/constants"
	"securebus/pkg/metrics"
)

type MongoSubjectStore struct {
	records  *mongo.Collection
	requests *mongo.Collection
}

func NewMongoSubjectStore(db *mongo.Database) *MongoSubjectStore {
	return &MongoSubjectStore{
		records:  db.Collection(constants.SubjectRecordsCollection),
		requests: db.Collection(constants.SubjectRequestsCollection),
	}
}

func (s *MongoSubjectStore) Save(ctx context.Context, record SubjectRecord) error {
	start := time.Now()
	filter := bson.M{"message_id": record.MessageID}
	_, err := s.records.ReplaceOne(ctx, filter, record, options.Replace().SetUpsert(true))
	observe("save", start, err)
	if err != nil {
		return fmt.Errorf("failed to save subject record: %w", err)
	}
	return nil
}

func (s *MongoSubjectStore) Find(ctx context.Context, subjectID string) ([]SubjectRecord, error) {
	start := time.Now()
	opts := options.Find().SetSort(bson.D{{Key: "recorded_at", Value: -1}})

	cursor, err := s.records.Find(ctx, bson.M{"subject_id": subjectID}, opts)
	if err != nil {
		observe("find", start, err)
		return nil, fmt.Errorf("failed to find subject records: %w", err)
	}
	defer cursor.Close(ctx)

	records := []SubjectRecord{}
	err = cursor.All(ctx, &records)
	observe("find", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to decode subject records: %w", err)
	}

	return records, nil
}

func (s *MongoSubjectStore) Rectify(ctx context.Context, subjectID string, fields map[string]interface{}) (int, error) {
	start := time.Now()
	set := bson.M{}
	for k, v := range fields {
		set["payload."+k] = v
	}

	res, err := s.records.UpdateMany(ctx, bson.M{"subject_id": subjectID}, bson.M{"$set": set})
	observe("rectify", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to rectify subject records: %w", err)
	}
	return int(res.MatchedCount), nil
}

func (s *MongoSubjectStore) Erase(ctx context.Context, subjectID string) (int, error) {
	start := time.Now()
	res, err := s.records.DeleteMany(ctx, bson.M{"subject_id": subjectID})
	observe("erase", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to erase subject records: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (s *MongoSubjectStore) SaveRequest(ctx context.Context, result RequestResult) error {
	start := time.Now()
	result.Data = nil
	_, err := s.requests.InsertOne(ctx, result)
	observe("save_request", start, err)
	if err != nil {
		return fmt.Errorf("failed to save subject request: %w", err)
	}
	return nil
}

func observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.IncDatabaseQuery("mongodb", operation, status)
	metrics.ObserveDatabaseQueryDuration("mongodb", operation, time.Since(start))
}
