package redis_client

import (
	"context"
	"strconv"

	"github.com/busboard/busboard/pkg/util"
	"github.com/redis/go-redis/v9"
)

var Client *redis.Client

const defaultConnectionAddress = "localhost:6379"
const defaultDatabase = 0

func Connect() error {
	env := util.GetEnvironmentVariables()

	address := util.EnvDefault(env, "BUSBOARD_REDIS_ADDRESS", defaultConnectionAddress)
	password := env["BUSBOARD_REDIS_PASSWORD"]

	database := defaultDatabase
	if env["BUSBOARD_REDIS_DATABASE"] != "" {
		n, err := strconv.Atoi(env["BUSBOARD_REDIS_DATABASE"])
		if err != nil {
			return err
		}

		database = n
	}

	Client = redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       database,
	})

	return Client.Ping(context.Background()).Err()
}
