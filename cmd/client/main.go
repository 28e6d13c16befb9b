package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"greenbox/config"
	"greenbox/internal/identity"
	"greenbox/internal/keystore"
	"greenbox/internal/location"
	envelopeRepo "greenbox/internal/repository/envelope"
	friendshipRepo "greenbox/internal/repository/friendship"
	identityRepo "greenbox/internal/repository/identity"
	"greenbox/internal/service/relayclient"
	redisSvc "greenbox/internal/service/redis"
	"greenbox/internal/session"
	"greenbox/internal/utils/log"
	apperrors "greenbox/pkg/errors"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) < 3 {
		log.Fatal("usage: client <identity-id> <friend-id>")
	}
	identityID := os.Args[1]
	friendID := os.Args[2]

	cfg := loadConfig()
	ctx := context.Background()

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

	keys, err := keystore.Open(cfg.Session.KeyringService)
	if err != nil {
		log.Fatal("open keystore failed", zap.Error(err))
	}

	identities := identityRepo.NewRepo(db)
	friendships := friendshipRepo.NewRepo(db)
	envelopes := envelopeRepo.NewStore(redisSvc.NewRedis(rdb), cfg.Relay.EnvelopeTTL)

	manager := identity.NewManager(keys, identities, friendships, envelopes)
	result, err := manager.Initialize(ctx, identityID, identity.Profile{DisplayName: identityID})
	if err != nil {
		log.Fatal("identity establishment failed", zap.Error(err))
	}
	if result.IsNewDevice {
		log.Warn("identity re-established on this device; friends must re-accept sharing")
	}

	relayClient := relayclient.New(cfg.Relay.BaseURL, identityID)

	// Request sharing with the friend; the pair may already exist, and
	// accepting our own request is a no-op on the ledger.
	if err := relayClient.RequestFriendship(ctx, friendID); err != nil && !errors.Is(err, apperrors.ErrFriendshipExists) {
		log.Fatal("friendship request failed", zap.Error(err))
	}
	if err := relayClient.AcceptFriendship(ctx, friendID); err != nil {
		log.Fatal("friendship accept failed", zap.Error(err))
	}

	sess := session.New(session.Config{
		Identity:  identityID,
		FriendID:  friendID,
		Keys:      result.Keys,
		Relay:     relayClient,
		Directory: relayClient,
		Source:    location.NewSimulatedSource(37.7749, -122.4194, cfg.Session.SampleInterval),
	})

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := sess.Start(sessCtx); err != nil {
		log.Fatal("session start failed", zap.Error(err))
	}
	defer sess.Stop()

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Session.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			for id, loc := range sess.LatestAll() {
				log.Info("latest position",
					zap.String("sender", id),
					zap.String("name", loc.SenderName),
					zap.Float64("lat", loc.Latitude),
					zap.Float64("lon", loc.Longitude),
					zap.Float64("acc", loc.Accuracy),
					zap.Time("at", loc.Timestamp))
			}
		}
	}
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
