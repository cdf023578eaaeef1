package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsgo_config "github.com/aws/aws-sdk-go-v2/config" // Alias để tránh trùng tên
	"github.com/aws/aws-sdk-go-v2/service/iotdataplane"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"parking_reservation/internal/api"
	"parking_reservation/internal/api/handler"
	"parking_reservation/internal/api/middleware"
	"parking_reservation/internal/config"
	"parking_reservation/internal/iot"
	"parking_reservation/internal/notify"
	"parking_reservation/internal/repository"
	"parking_reservation/internal/repository/boltdb"
	"parking_reservation/internal/repository/postgresql"
	"parking_reservation/internal/service"
)

type repositories struct {
	slots    repository.ParkingSlotRepository
	bookings repository.BookingRepository
	accounts repository.AccountRepository
	events   repository.DeviceEventsLogRepository
	closer   io.Closer
}

func openStore(ctx context.Context, cfg *config.Config) (*repositories, error) {
	switch cfg.StoreDriver {
	case "bolt":
		store, err := boltdb.Open(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		log.Printf("Đã mở Bolt store tại %s", cfg.BoltPath)
		return &repositories{
			slots:    store.Slots(),
			bookings: store.Bookings(),
			accounts: store.Accounts(),
			events:   store.DeviceEvents(),
			closer:   store,
		}, nil
	case "postgres", "postgresql":
		db, err := postgresql.NewDB(cfg)
		if err != nil {
			return nil, err
		}
		if err := postgresql.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		log.Println("Đã kết nối database thành công!")
		return &repositories{
			slots:    postgresql.NewPgParkingSlotRepository(db),
			bookings: postgresql.NewPgBookingRepository(db),
			accounts: postgresql.NewPgAccountRepository(db),
			events:   postgresql.NewPgDeviceEventsLogRepository(db),
			closer:   db,
		}, nil
	}
	return nil, errors.New("STORE_DRIVER không hợp lệ: " + cfg.StoreDriver)
}

func main() {
	// 1. Load Configuration
	cfg := config.Load()
	log.Println("Cấu hình đã được tải.")

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// 2. Store
	repos, err := openStore(rootCtx, cfg)
	if err != nil {
		log.Fatalf("Không thể mở kho dữ liệu: %v", err)
	}
	defer repos.closer.Close()

	// 3. Khởi tạo AWS SDK Config
	awsSDKCfg, err := awsgo_config.LoadDefaultConfig(rootCtx, awsgo_config.WithRegion(cfg.AWSRegion))
	if err != nil {
		log.Fatalf("Không thể tải AWS SDK config: %v", err)
	}
	log.Println("Đã tải AWS SDK config thành công cho region:", cfg.AWSRegion)

	// 4. Notifiers: WebSocket + Redis (nếu có) hoặc log
	webSocketManager := handler.NewWebSocketManager()
	go webSocketManager.Start(rootCtx)
	log.Println("WebSocket Manager đã được khởi động.")

	notifiers := notify.Multi{webSocketManager}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		if err := redisClient.Ping(rootCtx).Err(); err != nil {
			log.Printf("CẢNH BÁO: Không ping được Redis %s: %v", cfg.RedisAddr, err)
		}
		notifiers = append(notifiers, notify.NewRedisNotifier(redisClient, cfg.RedisChannel))
		log.Printf("Sự kiện booking sẽ được publish lên Redis kênh %s", cfg.RedisChannel)
	} else {
		notifiers = append(notifiers, notify.LogNotifier{})
	}

	// 5. Gate controller qua AWS IoT
	var gate service.GateController
	if cfg.IoTMQTTEndpoint != "" {
		iotDataPlaneClient := iotdataplane.NewFromConfig(awsSDKCfg, func(o *iotdataplane.Options) {
			endpointWithSchema := cfg.IoTMQTTEndpoint
			if !strings.HasPrefix(endpointWithSchema, "https://") && !strings.HasPrefix(endpointWithSchema, "http://") {
				endpointWithSchema = "https://" + endpointWithSchema
			}
			o.BaseEndpoint = aws.String(endpointWithSchema)
		})
		gate = service.NewIoTGateController(iotDataPlaneClient, cfg.GateCommandTopic)
		log.Printf("Lệnh mở cổng sẽ được publish tới topic %s", cfg.GateCommandTopic)
	} else {
		log.Println("CẢNH BÁO: IOT_MQTT_ENDPOINT chưa được cấu hình, không điều khiển barrier.")
	}

	// 6. Initialize Services
	locker := service.NewKeyedLocker()
	resolver := service.NewSlotResolver(repos.slots, cfg.SlotAliases)
	bookingService := service.NewBookingService(repos.slots, repos.bookings, repos.accounts, resolver, locker, notifiers, nil)
	reconciler := service.NewReconcilerService(repos.slots, repos.bookings, resolver, locker, notifiers, gate, cfg.GateSensorID, nil)
	sweeper := service.NewExpirySweeper(repos.slots, repos.bookings, locker, notifiers, cfg.SweepInterval, nil)
	iotService := service.NewIoTService(reconciler, repos.events, cfg.GateSensorID)
	tokenService := service.NewTokenService(cfg.JWTSecret)

	var lprService *service.LPRService
	if cfg.RekognitionEnabled {
		lprService = service.NewLPRService(rekognition.NewFromConfig(awsSDKCfg), reconciler)
	}

	if cfg.SeedSlots {
		if _, err := bookingService.SeedSlots(rootCtx); err != nil {
			log.Fatalf("Không thể seed chỗ đỗ: %v", err)
		}
	}

	// 7. Background workers: sweeper + SQS consumer
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(rootCtx)
	}()

	if cfg.SQSEventQueueURL == "" {
		log.Println("CẢNH BÁO: SQS_EVENT_QUEUE_URL chưa được cấu hình. SQS Consumer sẽ không chạy.")
	} else {
		sqsConsumer := iot.NewSQSConsumer(sqs.NewFromConfig(awsSDKCfg), cfg.SQSEventQueueURL, iotService)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sqsConsumer.Start(rootCtx)
			log.Println("SQS Consumer đã dừng.")
		}()
	}

	// 8. Setup HTTP Router
	router := api.SetupRouter(api.Services{
		Bookings:    bookingService,
		Reconciler:  reconciler,
		LPR:         lprService,
		AuthMw:      middleware.NewAuthMiddleware(tokenService),
		SensorLimit: middleware.NewRateLimiter(cfg.SensorRatePerSecond, cfg.SensorBurst),
		WSManager:   webSocketManager,
	})
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(router)

	// 9. Start HTTP Server
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Server đang chạy trên port %s", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Lỗi ListenAndServe(): %v", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Đang tắt server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server buộc phải tắt: %v", err)
	}

	cancelRoot()
	log.Println("Đang chờ các tác vụ nền dừng (tối đa 5 giây)...")
	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()
	select {
	case <-done:
		log.Println("Các tác vụ nền đã dừng hoàn toàn.")
	case <-time.After(5 * time.Second):
		log.Println("Các tác vụ nền không dừng trong thời gian chờ.")
	}

	log.Println("Server đã tắt.")
}
