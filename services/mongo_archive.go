package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"stock_monitor_backend/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB collection names
const (
	MongoDBName                 = "stock_monitor"
	MongoLatestBatchCollection  = "latest_batch"
	MongoCycleHistoryCollection = "cycle_history"
)

// MongoArchive mirrors each successful cycle to MongoDB Atlas as a secondary,
// best-effort copy. It is optional: when MONGODB_URI is unset the archive is
// disabled and every call is a no-op.
type MongoArchive struct {
	client      *mongo.Client
	database    *mongo.Database
	mu          sync.RWMutex
	isConnected bool
}

// MongoBatchDoc is the latest-batch document shape.
type MongoBatchDoc struct {
	ID        string                 `bson:"_id"`
	UpdatedAt time.Time              `bson:"updated_at"`
	Count     int                    `bson:"count"`
	Stocks    []models.StockSnapshot `bson:"stocks"`
}

// MongoCycleDoc records one cycle's outcome.
type MongoCycleDoc struct {
	Status      string    `bson:"status"`
	Message     string    `bson:"message"`
	StockCount  int       `bson:"stock_count"`
	UpdateCount int       `bson:"update_count"`
	AlertCount  int       `bson:"alert_count"`
	DurationMs  int64     `bson:"duration_ms"`
	CreatedAt   time.Time `bson:"created_at"`
}

// NewMongoArchive connects to MongoDB Atlas when a URI is configured. A
// connection failure disables the archive rather than failing startup.
func NewMongoArchive(uri string) *MongoArchive {
	a := &MongoArchive{}
	if uri == "" {
		log.Println("MONGODB_URI not set, MongoDB archive disabled")
		return a
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetMaxPoolSize(10).
		SetConnectTimeout(30 * time.Second).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		log.Printf("Failed to connect to MongoDB Atlas: %v", err)
		return a
	}

	if err := client.Ping(ctx, nil); err != nil {
		log.Printf("Failed to ping MongoDB Atlas: %v", err)
		client.Disconnect(ctx)
		return a
	}

	a.client = client
	a.database = client.Database(MongoDBName)
	a.isConnected = true
	a.createIndexes()

	log.Println("MongoDB Atlas archive connected")
	return a
}

// IsConfigured returns whether the archive is connected.
func (a *MongoArchive) IsConfigured() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.isConnected
}

// createIndexes sets up the archive indexes.
func (a *MongoArchive) createIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	history := a.database.Collection(MongoCycleHistoryCollection)
	history.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: -1}},
	})
}

// ArchiveCycle mirrors a successful cycle's batch and metadata. Errors are
// returned for logging but never fail the cycle.
func (a *MongoArchive) ArchiveCycle(batch []models.StockSnapshot, result *models.ScrapeRecord) error {
	if !a.IsConfigured() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	doc := MongoBatchDoc{
		ID:        "latest_batch",
		UpdatedAt: time.Now(),
		Count:     len(batch),
		Stocks:    batch,
	}

	latest := a.database.Collection(MongoLatestBatchCollection)
	opts := options.Replace().SetUpsert(true)
	if _, err := latest.ReplaceOne(ctx, bson.M{"_id": "latest_batch"}, doc, opts); err != nil {
		return fmt.Errorf("failed to mirror latest batch to MongoDB: %w", err)
	}

	if result != nil {
		history := a.database.Collection(MongoCycleHistoryCollection)
		cycleDoc := MongoCycleDoc{
			Status:      result.Status,
			Message:     result.Message,
			StockCount:  result.StockCount,
			UpdateCount: result.UpdateCount,
			AlertCount:  result.AlertCount,
			DurationMs:  result.DurationMs,
			CreatedAt:   result.CreatedAt,
		}
		if _, err := history.InsertOne(ctx, cycleDoc); err != nil {
			return fmt.Errorf("failed to record cycle in MongoDB: %w", err)
		}
	}

	return nil
}

// Close disconnects from MongoDB.
func (a *MongoArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isConnected {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.isConnected = false
	return a.client.Disconnect(ctx)
}
