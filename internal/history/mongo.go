package history

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const messagesCollection = "messages"

type mongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type mongoMessage struct {
	MessageID      string    `bson:"_id"`
	ConversationID string    `bson:"conversation_id"`
	Role           string    `bson:"role"`
	Content        string    `bson:"content"`
	IsLoading      bool      `bson:"is_loading"`
	CreatedAt      time.Time `bson:"created_at"`
}

// NewMongoDB opens a MongoDB-backed store.
func NewMongoDB(ctx context.Context, cfg MongoDBConfig) (Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("MongoDB URL is required")
	}
	dbName := cfg.Database
	if dbName == "" {
		dbName = "inferd"
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	coll := client.Database(dbName).Collection(messagesCollection)
	indexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}},
	}
	if _, err := coll.Indexes().CreateOne(ctx, indexModel); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &mongoStore{client: client, coll: coll}, nil
}

func (s *mongoStore) Insert(ctx context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.coll.InsertOne(ctx, mongoMessage{
		MessageID:      rec.MessageID,
		ConversationID: rec.ConversationID,
		Role:           rec.Role,
		Content:        rec.Content,
		IsLoading:      rec.IsLoading,
		CreatedAt:      rec.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *mongoStore) Update(ctx context.Context, messageID, content string, isLoading bool) (bool, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": messageID},
		bson.M{"$set": bson.M{"content": content, "is_loading": isLoading}})
	if err != nil {
		return false, fmt.Errorf("failed to update message: %w", err)
	}
	return res.MatchedCount > 0, nil
}

func (s *mongoStore) Conversation(ctx context.Context, conversationID string) ([]Record, error) {
	cursor, err := s.coll.Find(ctx,
		bson.M{"conversation_id": conversationID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	defer cursor.Close(ctx)

	var records []Record
	for cursor.Next(ctx) {
		var doc mongoMessage
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		records = append(records, Record{
			MessageID:      doc.MessageID,
			ConversationID: doc.ConversationID,
			Role:           doc.Role,
			Content:        doc.Content,
			IsLoading:      doc.IsLoading,
			CreatedAt:      doc.CreatedAt,
		})
	}
	return records, cursor.Err()
}

func (s *mongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}
