package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var Client *mongo.Client
var DB *mongo.Database
var Redis *redis.Client

func ConnectMongo(uri, dbName string) error {
	if uri == "" {
		logrus.Warn("MONGODB_URI not set, using default localhost")
		uri = "mongodb://127.0.0.1:27017"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return err
	}

	// Ping MongoDB
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return err
	}

	Client = client
	DB = client.Database(dbName)

	logrus.WithField("database", dbName).Info("Connected to MongoDB successfully")
	return nil
}

// ConnectMongoWithRetry tries ConnectMongo up to attempts times.
func ConnectMongoWithRetry(uri, dbName string, attempts int, wait time.Duration) error {
	var err error
	for i := 1; i <= attempts; i++ {
		if err = ConnectMongo(uri, dbName); err == nil {
			return nil
		}
		logrus.WithError(err).WithField("attempt", i).Warn("MongoDB connection attempt failed")
		time.Sleep(wait)
	}
	return fmt.Errorf("connect mongo after %d attempts: %w", attempts, err)
}

func DisconnectMongo() error {
	if Client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := Client.Disconnect(ctx); err != nil {
		return err
	}

	logrus.Info("Disconnected from MongoDB")
	return nil
}

func ConnectRedis(url string) error {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("ping redis: %w", err)
	}

	Redis = client
	logrus.WithField("addr", opts.Addr).Info("Connected to Redis successfully")
	return nil
}

func DisconnectRedis() error {
	if Redis == nil {
		return nil
	}
	return Redis.Close()
}
