package database

import (
	"context"
	"time"

	"github.com/busboard/busboard/pkg/util"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoInstance struct {
	Client   *mongo.Client
	Database *mongo.Database
}

var MongoGlobalInstance *MongoInstance

const defaultMongoConnectionString = "mongodb://localhost:27017/"
const defaultMongoDatabase = "gtfs_data"

func Connect() error {
	env := util.GetEnvironmentVariables()

	connectionString := util.EnvDefault(env, "BUSBOARD_MONGODB_CONNECTION", defaultMongoConnectionString)
	dbName := util.EnvDefault(env, "BUSBOARD_MONGODB_DATABASE", defaultMongoDatabase)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return err
	}

	MongoGlobalInstance = &MongoInstance{
		Client:   client,
		Database: client.Database(dbName),
	}

	return client.Ping(context.Background(), nil)
}

func GetCollection(collectionName string) *mongo.Collection {
	return MongoGlobalInstance.Database.Collection(collectionName)
}
