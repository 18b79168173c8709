package store

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/config"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/logger"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/protocol"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/utils"
)

const OfflineCollectionName = "offline_messages"

var ErrRecipientEmpty = errors.New("recipient is empty")

// offlineDocument is one recipient's queue: a single document whose messages
// array is appended with $push and drained with FindOneAndDelete, both
// atomic on the server side.
type offlineDocument struct {
	ClientID string   `bson:"client_id"`
	Messages []string `bson:"messages"`
}

// MongoStore is the durable offline store backed by MongoDB.
type MongoStore struct {
	client           *mongo.Client
	collection       *mongo.Collection
	operationTimeout time.Duration
}

func NewMongoStore(cfg config.Config) (*MongoStore, error) {
	logger.DebugF("Connecting to database...")
	db := cfg.Store.Database

	var databaseUrl string
	if db.Username != "" {
		databaseUrl = fmt.Sprintf("mongodb://%s:%s@%s:%d/?authSource=admin",
			url.QueryEscape(db.Username), url.QueryEscape(db.Password), db.Host, db.Port)
	} else {
		databaseUrl = fmt.Sprintf("mongodb://%s:%d/", db.Host, db.Port)
	}

	clientOptions := options.Client().ApplyURI(databaseUrl).SetAppName(cfg.AppName)
	clientOptions.SetMinPoolSize(db.MinPoolSize)
	clientOptions.SetMaxPoolSize(db.MaxPoolSize)
	clientOptions.SetMaxConnIdleTime(utils.ParseStringTime(db.ConnectIdleTimeout))
	clientOptions.SetConnectTimeout(utils.ParseStringTime(db.ConnectTimeout))
	clientOptions.SetSocketTimeout(utils.ParseStringTime(db.SocketTimeout))
	clientOptions.SetHeartbeatInterval(utils.ParseStringTime(db.Heartbeat))
	if db.UseTLS {
		clientOptions.SetTLSConfig(&tls.Config{InsecureSkipVerify: false})
	}
	clientOptions.SetPoolMonitor(&event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionCreated:
				logger.DebugF("Database connection created: %+v", evt)
			case event.ConnectionClosed:
				logger.DebugF("Database connection closed: %+v", evt)
			}
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("error occurred while connecting to database: %w", err)
	}

	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("error occurred while pinging database: %w", err)
	}

	collection := client.Database(db.Database).Collection(OfflineCollectionName)

	_, err = collection.Indexes().CreateOne(
		context.Background(),
		mongo.IndexModel{
			Keys:    bson.D{{Key: "client_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("offline_client_id_unique"),
		},
	)
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("error occurred while creating database indexes: %w", err)
	}

	operationTimeout := utils.ParseStringTime(db.OperationTimeout)
	if operationTimeout == 0 {
		operationTimeout = 5 * time.Second
	}

	return &MongoStore{
		client:           client,
		collection:       collection,
		operationTimeout: operationTimeout,
	}, nil
}

func (ms *MongoStore) Append(recipient string, frame *protocol.Frame) error {
	if recipient == "" {
		return ErrRecipientEmpty
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), ms.operationTimeout)
	defer cancel()

	filter := bson.D{{Key: "client_id", Value: recipient}}
	update := bson.D{{Key: "$push", Value: bson.D{{Key: "messages", Value: string(data)}}}}
	opts := options.Update().SetUpsert(true)

	if _, err := ms.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("unique key conflicts: %w", err)
		}
		return fmt.Errorf("database operation failed: %w", err)
	}
	return nil
}

func (ms *MongoStore) Flush(recipient string) ([]*protocol.Frame, error) {
	if recipient == "" {
		return nil, ErrRecipientEmpty
	}

	ctx, cancel := context.WithTimeout(context.Background(), ms.operationTimeout)
	defer cancel()

	filter := bson.D{{Key: "client_id", Value: recipient}}
	var doc offlineDocument

	startTime := time.Now()
	err := ms.collection.FindOneAndDelete(ctx, filter).Decode(&doc)
	logger.DebugF("offline queue drain cost: %v", time.Since(startTime))

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("database operation failed: %w", err)
	}

	frames := make([]*protocol.Frame, 0, len(doc.Messages))
	for _, raw := range doc.Messages {
		var f protocol.Frame
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			return nil, fmt.Errorf("corrupt frame in offline queue for %s: %w", recipient, err)
		}
		frames = append(frames, &f)
	}
	return frames, nil
}

func (ms *MongoStore) Requeue(recipient string, frames []*protocol.Frame) error {
	if recipient == "" {
		return ErrRecipientEmpty
	}
	if len(frames) == 0 {
		return nil
	}

	raws := make([]string, 0, len(frames))
	for _, frame := range frames {
		data, err := json.Marshal(frame)
		if err != nil {
			return err
		}
		raws = append(raws, string(data))
	}

	ctx, cancel := context.WithTimeout(context.Background(), ms.operationTimeout)
	defer cancel()

	filter := bson.D{{Key: "client_id", Value: recipient}}
	update := bson.D{{Key: "$push", Value: bson.D{{Key: "messages", Value: bson.D{
		{Key: "$each", Value: raws},
		{Key: "$position", Value: 0},
	}}}}}
	opts := options.Update().SetUpsert(true)

	if _, err := ms.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("database operation failed: %w", err)
	}
	return nil
}

func (ms *MongoStore) Pending(recipient string) (bool, error) {
	if recipient == "" {
		return false, ErrRecipientEmpty
	}

	ctx, cancel := context.WithTimeout(context.Background(), ms.operationTimeout)
	defer cancel()

	filter := bson.D{{Key: "client_id", Value: recipient}}
	count, err := ms.collection.CountDocuments(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("database operation failed: %w", err)
	}
	return count > 0, nil
}

func (ms *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), ms.operationTimeout)
	defer cancel()
	return ms.client.Disconnect(ctx)
}
