package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nadeko0/wirechat/tools/ids"
)

const messagesCollection = "messages"

// MongoStore persists messages in a mongo collection. Ids are snowflake
// ids assigned at save time, so sorting by id is sorting by send order.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type MongoConfig struct {
	URI      string
	Database string
}

func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}
	if err := cli.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "ping mongo")
	}

	coll := cli.Database(cfg.Database).Collection(messagesCollection)
	_, err = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "sender_id", Value: 1}, {Key: "receiver_id", Value: 1}, {Key: "id", Value: -1}}},
		{Keys: bson.D{{Key: "id", Value: -1}}},
	})
	if err != nil {
		return nil, errors.Wrap(err, "ensure message indexes")
	}

	return &MongoStore{client: cli, coll: coll}, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Save(ctx context.Context, msg *Message) error {
	msg.ID = ids.Generate()
	msg.Timestamp = time.Now()

	if _, err := s.coll.InsertOne(ctx, msg); err != nil {
		return errors.Wrap(err, "insert message")
	}
	return nil
}

func conversationFilter(userID, otherID int64) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"sender_id": userID, "receiver_id": otherID},
		bson.M{"sender_id": otherID, "receiver_id": userID},
	}}
}

func (s *MongoStore) Fetch(ctx context.Context, userID, otherID, beforeID int64, limit int64) (*History, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	filter := conversationFilter(userID, otherID)
	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "count messages")
	}

	pageFilter := filter
	if beforeID > 0 {
		pageFilter = bson.M{"$and": bson.A{filter, bson.M{"id": bson.M{"$lt": beforeID}}}}
	}

	// Fetch newest-first, one extra row to learn whether older pages exist,
	// then flip to oldest-first for the caller.
	opts := options.Find().
		SetSort(bson.D{{Key: "id", Value: -1}}).
		SetLimit(limit + 1)
	cur, err := s.coll.Find(ctx, pageFilter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find messages")
	}
	defer func() { _ = cur.Close(ctx) }()

	var page []Message
	if err := cur.All(ctx, &page); err != nil {
		return nil, errors.Wrap(err, "decode messages")
	}

	hasMore := int64(len(page)) > limit
	if hasMore {
		page = page[:limit]
	}
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}

	return &History{Messages: page, TotalCount: total, HasMore: hasMore}, nil
}
