// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"medichat-go/internal/audit"
	"medichat-go/internal/config"
	"medichat-go/internal/handler"
	"medichat-go/internal/middleware"
	"medichat-go/internal/model"
	"medichat-go/internal/repository"
	"medichat-go/internal/service"
	"medichat-go/internal/session"
	"medichat-go/pkg/answer"
	"medichat-go/pkg/database"
	"medichat-go/pkg/es"
	"medichat-go/pkg/kafka"
	"medichat-go/pkg/kvstore"
	"medichat-go/pkg/log"
	"medichat-go/pkg/storage"
	"medichat-go/pkg/tika"
	"medichat-go/pkg/token"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、对象存储与检索索引
	database.InitMySQL(cfg.Database.MySQL.DSN)
	if err := database.DB.AutoMigrate(&model.User{}, &model.SessionEventRecord{}); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	userRepository := repository.NewUserRepository(database.DB)
	eventRepository := repository.NewEventRepository(database.DB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	tikaClient := tika.NewClient(cfg.Tika)
	answerClient := answer.NewClient(cfg.Answer)
	userService := service.NewUserService(userRepository, jwtManager)
	searchService := service.NewSearchService(cfg.Elasticsearch.IndexName)
	attachmentService := service.NewAttachmentService(cfg.MinIO.BucketName, tikaClient)
	adminService := service.NewAdminService(userRepository, eventRepository)
	recorder := service.NewEventRecorder(searchService)

	// 6. 构建会话管理器：状态持久化走 Redis，披露节奏来自配置
	sessionStore := kvstore.NewRedisStore(database.RDB)
	revealController := session.NewRevealController(
		time.Duration(cfg.Reveal.TickIntervalMs)*time.Millisecond,
		cfg.Reveal.FastStep,
		cfg.Reveal.SlowPhaseLimit,
	)
	sessionManager := session.NewManager(sessionStore, answerClient, revealController, recorder)

	// 7. 启动后台 Kafka 消费者（会话事件审计落库）
	auditProcessor := audit.NewProcessor(eventRepository)
	go kafka.StartConsumer(cfg.Kafka, auditProcessor)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	userHandler := handler.NewUserHandler(userService, sessionManager)
	patientHandler := handler.NewPatientHandler(sessionManager, attachmentService)
	conversationHandler := handler.NewConversationHandler(sessionManager)
	chatHandler := handler.NewChatHandler(sessionManager, userService, jwtManager)
	searchHandler := handler.NewSearchHandler(searchService)
	adminHandler := handler.NewAdminHandler(adminService)

	apiV1 := r.Group("/api/v1")
	{
		// Auth 路由组
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", handler.NewAuthHandler(userService).RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/me", userHandler.GetProfile)
				authed.POST("/logout", userHandler.Logout)
			}
		}

		// Patient 路由组，需要认证
		patients := apiV1.Group("/patients")
		patients.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			patients.GET("", patientHandler.List)
			patients.POST("", patientHandler.Create)
			patients.GET("/context", patientHandler.Context)
			patients.POST("/switch", patientHandler.RequestSwitch)
			patients.POST("/switch/confirm", patientHandler.ConfirmSwitch)
			patients.POST("/switch/cancel", patientHandler.CancelSwitch)
			patients.POST("/deactivate", patientHandler.Deactivate)
			patients.POST("/:id/select", patientHandler.Select)
			patients.POST("/:id/notes", patientHandler.AppendNote)
			patients.DELETE("/:id", patientHandler.Delete)
			patients.POST("/:id/attachments", patientHandler.UploadAttachment)
			patients.GET("/:id/attachments/:fileId/url", patientHandler.AttachmentURL)
		}

		// Conversation 路由组，需要认证
		conversations := apiV1.Group("/conversations")
		conversations.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			conversations.GET("", conversationHandler.List)
			conversations.GET("/current/messages", conversationHandler.Messages)
			conversations.POST("/new", conversationHandler.New)
			conversations.POST("/:id/select", conversationHandler.Select)
			conversations.PUT("/:id/title", conversationHandler.UpdateTitle)
			conversations.DELETE("/:id", conversationHandler.Delete)
		}

		// Search 路由组
		search := apiV1.Group("/search")
		search.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			search.GET("", searchHandler.Search)
		}

		// Chat 路由 (WebSocket)
		chatGroup := apiV1.Group("/chat")
		{
			chatGroup.GET("/websocket-token", chatHandler.GetWebsocketStopToken)
		}
		r.GET("/chat/:token", chatHandler.Handle)

		admin := apiV1.Group("/admin")
		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin.Use(middleware.AuthMiddleware(jwtManager, userService), middleware.AdminAuthMiddleware())
		{
			admin.GET("/users/list", adminHandler.ListUsers)
			admin.GET("/events", adminHandler.ListEvents)
			admin.GET("/events/recent", adminHandler.RecentEvents)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	// Kafka 消费者是一个循环，会在程序退出时自然结束。
	log.Info("服务已优雅关闭")
}
