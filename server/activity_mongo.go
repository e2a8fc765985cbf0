package main

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type activityDoc struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	BoardID      int64              `bson:"board_id"`
	CardID       *int64             `bson:"card_id,omitempty"`
	ActorID      *int64             `bson:"actor_id,omitempty"`
	Action       string             `bson:"action"`
	Data         bson.M             `bson:"data,omitempty"`
	BoardVisible bool               `bson:"board_visible"`
	CreatedAt    time.Time          `bson:"created_at"`
}

func (d activityDoc) entry() ActivityEntry {
	return ActivityEntry{
		ID:           d.ID.Hex(),
		BoardID:      d.BoardID,
		CardID:       d.CardID,
		ActorID:      d.ActorID,
		Action:       d.Action,
		Data:         map[string]any(d.Data),
		BoardVisible: d.BoardVisible,
		CreatedAt:    d.CreatedAt,
	}
}

type mongoActivityLog struct {
	coll *mongo.Collection
}

// newMongoActivityLog connects and makes sure the feed indexes exist.
func newMongoActivityLog(ctx context.Context, uri, database string) (*mongoActivityLog, func(context.Context) error, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	l := &mongoActivityLog{coll: client.Database(database).Collection("activities")}
	if err := l.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, err
	}
	return l, client.Disconnect, nil
}

func (l *mongoActivityLog) ensureIndexes(ctx context.Context) error {
	_, err := l.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "board_id", Value: 1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "card_id", Value: 1}, {Key: "_id", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("mongo indexes: %w", err)
	}
	return nil
}

func (l *mongoActivityLog) Append(ctx context.Context, e ActivityEntry) (ActivityEntry, error) {
	doc := activityDoc{
		ID:           primitive.NewObjectID(),
		BoardID:      e.BoardID,
		CardID:       e.CardID,
		ActorID:      e.ActorID,
		Action:       e.Action,
		Data:         bson.M(e.Data),
		BoardVisible: e.BoardVisible,
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := l.coll.InsertOne(ctx, doc); err != nil {
		return ActivityEntry{}, fmt.Errorf("append activity: %w", err)
	}
	return doc.entry(), nil
}

func (l *mongoActivityLog) ListByBoard(ctx context.Context, boardID int64, before string, limit int) ([]ActivityEntry, error) {
	return l.list(ctx, bson.M{"board_id": boardID, "board_visible": true}, before, limit)
}

func (l *mongoActivityLog) ListByCard(ctx context.Context, cardID int64, before string, limit int) ([]ActivityEntry, error) {
	return l.list(ctx, bson.M{"card_id": cardID}, before, limit)
}

func (l *mongoActivityLog) DeleteBoard(ctx context.Context, boardID int64) error {
	_, err := l.coll.DeleteMany(ctx, bson.M{"board_id": boardID})
	return err
}

func (l *mongoActivityLog) list(ctx context.Context, filter bson.M, before string, limit int) ([]ActivityEntry, error) {
	if before != "" {
		oid, err := primitive.ObjectIDFromHex(before)
		if err != nil {
			return nil, validationError("invalid before cursor")
		}
		filter["_id"] = bson.M{"$lt": oid}
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}}).SetLimit(int64(clampActivityLimit(limit)))
	cur, err := l.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []ActivityEntry{}
	for cur.Next(ctx) {
		var d activityDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, d.entry())
	}
	return out, cur.Err()
}
