package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"greenbox/config"
	envelopeRepo "greenbox/internal/repository/envelope"
	friendshipRepo "greenbox/internal/repository/friendship"
	identityRepo "greenbox/internal/repository/identity"
	"greenbox/internal/service/relay"
	redisSvc "greenbox/internal/service/redis"
	"greenbox/internal/utils/log"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	cfg := loadConfig()

	mongoDBClient, err := initMongo(cfg.Mongo.URI)
	if err != nil {
		log.Fatal("connect to mongo failed", zap.Error(err))
	}

	db := mongoDBClient.Database(cfg.Mongo.Database)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	redisService := redisSvc.NewRedis(rdb)

	identities := identityRepo.NewRepo(db)
	friendships := friendshipRepo.NewRepo(db)
	envelopes := envelopeRepo.NewStore(redisService, cfg.Relay.EnvelopeTTL)

	server := relay.NewServer(cfg.Server.Addr, identities, friendships, envelopes)
	go func() {
		if err := server.Run(); err != nil {
			log.Fatal("relay server stopped", zap.Error(err))
		}
	}()
	log.Info("relay listening", zap.String("addr", cfg.Server.Addr))

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	<-done
}

func loadConfig() *config.Config {
	v, err := config.LoadConfig("config")
	if err != nil {
		log.Info("using default config", zap.Error(err))
		return config.Default()
	}

	cfg, err := config.ParseConfig(v)
	if err != nil {
		log.Fatal("parse config failed", zap.Error(err))
	}
	return cfg
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
