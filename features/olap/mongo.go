// MongoDB-backed Store implementation. Grounded on the teacher's
// registry/store/mongo.Store: one *mongo.Collection per logical table,
// ReplaceOne-with-upsert for idempotent writes, Find+cursor.All for bulk
// reads. Collections are addressed by name on a single shared database
// handle rather than multiplexed client instances (the teacher dials one
// *mongo.Client per process too).
package olap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tensorzero/gateway/features/dicl"
)

// MongoStore is a MongoDB implementation of Store.
type MongoStore struct {
	chatInference         *mongo.Collection
	jsonInference         *mongo.Collection
	modelInference        *mongo.Collection
	batchModelInference   *mongo.Collection
	batchRequest          *mongo.Collection
	booleanMetricFeedback *mongo.Collection
	floatMetricFeedback   *mongo.Collection
	commentFeedback       *mongo.Collection
	demonstrationFeedback *mongo.Collection
	diclExample           *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore builds a MongoStore over db, one collection per logical
// table named after spec §6's table names.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		chatInference:         db.Collection("chat_inference"),
		jsonInference:         db.Collection("json_inference"),
		modelInference:        db.Collection("model_inference"),
		batchModelInference:   db.Collection("batch_model_inference"),
		batchRequest:          db.Collection("batch_request"),
		booleanMetricFeedback: db.Collection("boolean_metric_feedback"),
		floatMetricFeedback:   db.Collection("float_metric_feedback"),
		commentFeedback:       db.Collection("comment_feedback"),
		demonstrationFeedback: db.Collection("demonstration_feedback"),
		diclExample:           db.Collection("dicl_example"),
	}
}

func (s *MongoStore) WriteChatInference(ctx context.Context, row ChatInferenceRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	opts := options.Replace().SetUpsert(true)
	_, err := s.chatInference.ReplaceOne(ctx, bson.M{"_id": row.InferenceID}, row, opts)
	return wrap("write chat_inference", err)
}

func (s *MongoStore) WriteJSONInference(ctx context.Context, row JSONInferenceRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	opts := options.Replace().SetUpsert(true)
	_, err := s.jsonInference.ReplaceOne(ctx, bson.M{"_id": row.InferenceID}, row, opts)
	return wrap("write json_inference", err)
}

func (s *MongoStore) WriteModelInference(ctx context.Context, row ModelInferenceRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	opts := options.Replace().SetUpsert(true)
	_, err := s.modelInference.ReplaceOne(ctx, bson.M{"_id": row.ID}, row, opts)
	return wrap("write model_inference", err)
}

func (s *MongoStore) WriteBatchModelInference(ctx context.Context, row BatchModelInferenceRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	opts := options.Replace().SetUpsert(true)
	_, err := s.batchModelInference.ReplaceOne(ctx, bson.M{"_id": row.InferenceID}, row, opts)
	return wrap("write batch_model_inference", err)
}

// WriteBatchRequestStatus always inserts: the table is append-only and the
// latest row by timestamp is authoritative (spec §6).
func (s *MongoStore) WriteBatchRequestStatus(ctx context.Context, row BatchRequestRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	_, err := s.batchRequest.InsertOne(ctx, row)
	return wrap("write batch_request", err)
}

func (s *MongoStore) LatestBatchRequest(ctx context.Context, batchID string) (*BatchRequestRow, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "createdat", Value: -1}})
	var row BatchRequestRow
	err := s.batchRequest.FindOne(ctx, bson.M{"batchid": batchID}, opts).Decode(&row)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("read batch_request", err)
	}
	return &row, nil
}

func (s *MongoStore) BatchModelInferencesForBatch(ctx context.Context, batchID string) ([]BatchModelInferenceRow, error) {
	cursor, err := s.batchModelInference.Find(ctx, bson.M{"batchid": batchID})
	if err != nil {
		return nil, wrap("find batch_model_inference", err)
	}
	defer cursor.Close(ctx)
	var rows []BatchModelInferenceRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, wrap("decode batch_model_inference", err)
	}
	return rows, nil
}

func (s *MongoStore) BatchIDForInference(ctx context.Context, inferenceID string) (string, error) {
	var row BatchModelInferenceRow
	err := s.batchModelInference.FindOne(ctx, bson.M{"_id": inferenceID}).Decode(&row)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", wrap("read batch_model_inference", err)
	}
	return row.BatchID, nil
}

func (s *MongoStore) WriteBooleanMetricFeedback(ctx context.Context, row BooleanMetricFeedbackRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	_, err := s.booleanMetricFeedback.InsertOne(ctx, row)
	return wrap("write boolean_metric_feedback", err)
}

func (s *MongoStore) WriteFloatMetricFeedback(ctx context.Context, row FloatMetricFeedbackRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	_, err := s.floatMetricFeedback.InsertOne(ctx, row)
	return wrap("write float_metric_feedback", err)
}

func (s *MongoStore) WriteCommentFeedback(ctx context.Context, row CommentFeedbackRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	_, err := s.commentFeedback.InsertOne(ctx, row)
	return wrap("write comment_feedback", err)
}

func (s *MongoStore) WriteDemonstrationFeedback(ctx context.Context, row DemonstrationFeedbackRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	_, err := s.demonstrationFeedback.InsertOne(ctx, row)
	return wrap("write demonstration_feedback", err)
}

func (s *MongoStore) InferenceExists(ctx context.Context, inferenceID string) (bool, error) {
	return s.exists(ctx, s.chatInference, s.jsonInference, "_id", inferenceID)
}

func (s *MongoStore) EpisodeExists(ctx context.Context, episodeID string) (bool, error) {
	return s.exists(ctx, s.chatInference, s.jsonInference, "episodeid", episodeID)
}

func (s *MongoStore) FunctionNameForInference(ctx context.Context, inferenceID string) (string, error) {
	var chatRow struct {
		FunctionName string `bson:"functionname"`
	}
	err := s.chatInference.FindOne(ctx, bson.M{"_id": inferenceID}).Decode(&chatRow)
	if err == nil {
		return chatRow.FunctionName, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return "", wrap("read chat_inference", err)
	}
	var jsonRow struct {
		FunctionName string `bson:"functionname"`
	}
	err = s.jsonInference.FindOne(ctx, bson.M{"_id": inferenceID}).Decode(&jsonRow)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", wrap("read json_inference", err)
	}
	return jsonRow.FunctionName, nil
}

func (s *MongoStore) exists(ctx context.Context, a, b *mongo.Collection, field, value string) (bool, error) {
	for _, coll := range []*mongo.Collection{a, b} {
		n, err := coll.CountDocuments(ctx, bson.M{field: value}, options.Count().SetLimit(1))
		if err != nil {
			return false, wrap("count "+coll.Name(), err)
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

type diclExampleDocument struct {
	FunctionName string    `bson:"functionname"`
	VariantName  string    `bson:"variantname"`
	Input        string    `bson:"input"`
	Output       string    `bson:"output"`
	Embedding    []float64 `bson:"embedding"`
}

func (s *MongoStore) ExamplesForFunction(ctx context.Context, functionName, variantName string) ([]dicl.Example, error) {
	cursor, err := s.diclExample.Find(ctx, bson.M{"functionname": functionName, "variantname": variantName})
	if err != nil {
		return nil, wrap("find dicl_example", err)
	}
	defer cursor.Close(ctx)
	var docs []diclExampleDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrap("decode dicl_example", err)
	}
	out := make([]dicl.Example, 0, len(docs))
	for _, d := range docs {
		if d.Output == "" {
			// WriteDICLExample rejects a missing output at write time (spec
			// §4.5 "An example row missing its output is a hard error"), so
			// this only guards against a row written before that check
			// existed; skip rather than fail the whole retrieval.
			continue
		}
		out = append(out, dicl.Example{Input: d.Input, Output: d.Output, Embedding: d.Embedding})
	}
	return out, nil
}

func (s *MongoStore) WriteDICLExample(ctx context.Context, functionName, variantName, input, output string, embedding []float64) error {
	if output == "" {
		return fmt.Errorf("olap: dicl example for %s/%s has no output", functionName, variantName)
	}
	doc := diclExampleDocument{FunctionName: functionName, VariantName: variantName, Input: input, Output: output, Embedding: embedding}
	_, err := s.diclExample.InsertOne(ctx, doc)
	return wrap("write dicl_example", err)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("olap: %s: %w", op, err)
}
