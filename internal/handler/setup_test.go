package handler

import (
	"context"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/chatroom"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/config"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/hub"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/presence"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/repository"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/service"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/session"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/testutil"
)

var testWSConfig = config.WebSocketConfig{
	PingInterval:   time.Minute,
	PongWait:       2 * time.Minute,
	WriteWait:      5 * time.Second,
	MaxMessageSize: 64 * 1024,
	SendBuffer:     64,
}

type testServer struct {
	hub         *hub.Hub
	registry    *session.Registry
	users       *repository.GormUserRepository
	delivery    service.DeliveryService
	connections service.ConnectionService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	users := repository.NewGormUserRepository(db)
	devices := repository.NewGormDeviceRepository(db)
	messages := repository.NewGormMessageRepository(db)
	resolver := chatroom.NewResolver(repository.NewGormChatroomRepository(db))

	ctx, cancel := context.WithCancel(context.Background())
	wsHub := hub.NewHub(testWSConfig)
	go wsHub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-wsHub.Done()
	})

	reg := session.NewRegistry()
	tracker := presence.NewTracker(reg, wsHub, nil, nil, presence.Config{InstanceID: "test"})
	delivery := service.NewDeliveryService(users, messages, resolver, reg, nil, nil)
	t.Cleanup(delivery.Stop)

	return &testServer{
		hub:         wsHub,
		registry:    reg,
		users:       users,
		delivery:    delivery,
		connections: service.NewConnectionService(users, devices, resolver, reg, tracker, false),
	}
}
