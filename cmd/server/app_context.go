package main

import (
	"context"
	"log"
	"time"

	redis "github.com/redis/go-redis/v9"

	"sms-forwarder/internal/channels"
	"sms-forwarder/internal/config"
	"sms-forwarder/internal/dedup"
	"sms-forwarder/internal/modem"
	"sms-forwarder/internal/push"
	"sms-forwarder/internal/queue"
	"sms-forwarder/internal/sms"
	"sms-forwarder/internal/store"
)

const dedupNamespace = "sms-forwarder"

// AppContext 应用运行时上下文
// 聚合所有运行期依赖,统一管理生命周期
type AppContext struct {
	Config    config.Config
	Store     *store.MySQLStore
	Redis     *redis.Client
	Registry  *push.Registry
	Forwarder *push.Forwarder
	Receiver  *sms.Receiver
	Modem     *modem.Modem
	Pump      *modem.Pump
	Producer  *queue.MessageProducer
	Consumer  *queue.MessageConsumer

	maintenanceStop chan struct{}
	maintenanceDone chan struct{}
}

// Close 释放应用上下文持有的所有资源
// 按照依赖关系倒序释放,避免资源泄漏
func (appContext *AppContext) Close() {
	appContext.stopMaintenance()
	appContext.stopPump()
	appContext.stopQueue()
	appContext.closeModem()
	appContext.closeStorage()
}

// stopMaintenance 停止维护任务
func (appContext *AppContext) stopMaintenance() {
	if appContext.maintenanceStop != nil {
		close(appContext.maintenanceStop)
		<-appContext.maintenanceDone
	}
}

// stopPump 停止串口读取任务
func (appContext *AppContext) stopPump() {
	if appContext.Pump != nil {
		appContext.Pump.Stop()
	}
}

// stopQueue 停止队列生产者与消费者
func (appContext *AppContext) stopQueue() {
	if appContext.Consumer != nil {
		appContext.Consumer.Stop()
	}
	if appContext.Producer != nil {
		appContext.Producer.Close()
	}
}

// closeModem 关闭串口
func (appContext *AppContext) closeModem() {
	if appContext.Modem != nil {
		appContext.Modem.Close()
	}
}

// closeStorage 关闭存储连接
func (appContext *AppContext) closeStorage() {
	if appContext.Store != nil {
		appContext.Store.Close()
	}
	if appContext.Redis != nil {
		appContext.Redis.Close()
	}
}

//
// 消息去向适配
//

// syncSink 在接收调用链上同步执行转发
// 推送期间串口处理会被阻塞,吞吐要求高时应启用异步投递
type syncSink struct {
	forwarder *push.Forwarder
}

func (sink syncSink) Deliver(msg push.CompletedMessage) {
	outcome, _ := sink.forwarder.Forward(context.Background(), msg)
	log.Printf("[SINK] 转发完成: sender=%s outcome=%s", msg.Sender, outcome)
}

// asyncSink 经由 NSQ 异步投递,入队失败时回退为同步转发
type asyncSink struct {
	producer *queue.MessageProducer
	fallback syncSink
}

func (sink asyncSink) Deliver(msg push.CompletedMessage) {
	if err := sink.producer.Enqueue(context.Background(), msg); err != nil {
		log.Printf("[SINK] ⚠️ 入队失败,回退同步转发: %v", err)
		sink.fallback.Deliver(msg)
		return
	}
	log.Printf("[SINK] 已入队: sender=%s", msg.Sender)
}

//
// 应用初始化器
//

// ApplicationInitializer 应用初始化器
// 负责构建完整的应用运行上下文
type ApplicationInitializer struct {
	configuration config.Config
	appContext    *AppContext
}

// NewApplicationInitializer 创建应用初始化器实例
func NewApplicationInitializer(configuration config.Config) *ApplicationInitializer {
	return &ApplicationInitializer{
		configuration: configuration,
		appContext: &AppContext{
			Config: configuration,
		},
	}
}

// Initialize 初始化应用上下文
// 按照依赖关系依次初始化各个组件
func (initializer *ApplicationInitializer) Initialize() *AppContext {
	initializer.initializeStorage()
	initializer.initializeRegistry()
	initializer.initializeForwarder()
	initializer.initializeQueue()
	initializer.initializeModem()
	initializer.startMaintenance()

	return initializer.appContext
}

// initializeStorage 初始化 MySQL 与可选的 Redis
func (initializer *ApplicationInitializer) initializeStorage() {
	mysqlStore, err := store.NewMySQLStore(initializer.configuration.Storage.MySQL)
	if err != nil {
		log.Fatalf("[Initializer] MySQL 初始化失败: %v", err)
	}
	initializer.appContext.Store = mysqlStore
	log.Println("[Initializer] MySQL 连接成功")

	if initializer.configuration.Storage.RedisAddr == "" {
		log.Println("[Initializer] 未配置 Redis,重复投递拦截停用")
		return
	}

	initializer.appContext.Redis = redis.NewClient(&redis.Options{
		Addr: initializer.configuration.Storage.RedisAddr,
	})
	log.Println("[Initializer] Redis 客户端初始化完成")
}

// initializeRegistry 创建通道注册表并登记全部内置通道
func (initializer *ApplicationInitializer) initializeRegistry() {
	registry := push.NewRegistry()

	if err := channels.RegisterAll(registry, initializer.configuration.Forward.ChannelTimeout); err != nil {
		log.Fatalf("[Initializer] 通道注册失败: %v", err)
	}

	initializer.appContext.Registry = registry
	log.Printf("[Initializer] 通道注册完成: %v", registry.Names())
}

// initializeForwarder 创建转发引擎
func (initializer *ApplicationInitializer) initializeForwarder() {
	forwardConfig := initializer.configuration.Forward

	forwarder := push.NewForwarder(
		initializer.appContext.Registry,
		initializer.appContext.Store,
		initializer.appContext.Store,
		forwardConfig.MaxPushRetries,
		forwardConfig.PushRetryDelay,
		forwardConfig.RuleCacheRefresh,
	)

	if initializer.appContext.Redis != nil {
		checker := dedup.NewRedisChecker(initializer.appContext.Redis, dedupNamespace)
		forwarder.SetDedup(checker, initializer.configuration.Storage.DedupTTL)
		log.Println("[Initializer] 重复投递拦截启用")
	}

	initializer.appContext.Forwarder = forwarder
	log.Println("[Initializer] 转发引擎创建完成")
}

// initializeQueue 初始化可选的异步投递通路
// 生产者与消费者运行在同一进程内,队列仅用于把推送移出串口调用链
func (initializer *ApplicationInitializer) initializeQueue() {
	if !initializer.configuration.Forward.AsyncDispatch {
		log.Println("[Initializer] 异步投递未启用,短信走同步转发")
		return
	}

	nsqConfig := initializer.configuration.NSQ

	producer, err := queue.NewMessageProducer(nsqConfig.NsqdTCPAddr, nsqConfig.Topic)
	if err != nil {
		log.Fatalf("[Initializer] 创建队列生产者失败: %v", err)
	}
	initializer.appContext.Producer = producer

	forwarder := initializer.appContext.Forwarder
	consumer, err := queue.NewMessageConsumer(nsqConfig, func(ctx context.Context, msg push.CompletedMessage) error {
		forwarder.Forward(ctx, msg)
		return nil
	})
	if err != nil {
		log.Fatalf("[Initializer] 创建队列消费者失败: %v", err)
	}
	if err := consumer.Start(); err != nil {
		log.Fatalf("[Initializer] 启动队列消费者失败: %v", err)
	}
	initializer.appContext.Consumer = consumer

	log.Printf("[Initializer] 异步投递通路就绪: connected=%v", consumer.IsConnected())
}

// initializeModem 打开串口、初始化模块并启动接收管线
func (initializer *ApplicationInitializer) initializeModem() {
	openedModem, err := modem.Open(initializer.configuration.Serial, initializer.configuration.AT)
	if err != nil {
		log.Fatalf("[Initializer] 打开串口失败: %v", err)
	}
	initializer.appContext.Modem = openedModem

	engine := openedModem.Engine()
	initializer.runModemInitSequence(engine)

	receiver := sms.NewReceiver(
		engine,
		initializer.appContext.Store,
		initializer.buildSink(),
		initializer.configuration.SMSReceive,
	)
	initializer.appContext.Receiver = receiver

	dispatcher := sms.NewDispatcher(receiver)
	pump := modem.NewPump(engine, dispatcher.HandleLine)
	pump.Start()
	initializer.appContext.Pump = pump

	log.Println("[Initializer] 短信接收管线启动完成")
}

// runModemInitSequence 执行模块初始化命令序列
// 关回显、切 PDU 模式、选定存储、开启到达通知;单条失败不中断启动,
// 但会在日志中醒目标出,便于对照诊断接口排查
func (initializer *ApplicationInitializer) runModemInitSequence(engine *modem.Engine) {
	initCommands := []string{
		modem.CMD_ECHO_OFF,
		modem.CMD_SMS_PDU_MODE,
		modem.CMD_SET_SMS_STORAGE,
		modem.CMD_ENABLE_SMS_NOTIFY,
	}

	for _, command := range initCommands {
		result := engine.Send(modem.Exchange{
			Command:      command,
			ExpectMarker: "OK",
			MaxRetries:   -1, // 沿用配置的重试次数
		})
		if result.Outcome != modem.OutcomeSuccess {
			log.Printf("[Initializer] ❌ 模块初始化命令失败: cmd=%q outcome=%s", command, result.Outcome)
		}
	}
}

// buildSink 根据配置选择消息去向
func (initializer *ApplicationInitializer) buildSink() sms.Sink {
	direct := syncSink{forwarder: initializer.appContext.Forwarder}

	if initializer.appContext.Producer == nil {
		return direct
	}
	return asyncSink{producer: initializer.appContext.Producer, fallback: direct}
}

// startMaintenance 启动周期维护任务
// 清理超龄的长短信分片,并裁剪历史短信记录
func (initializer *ApplicationInitializer) startMaintenance() {
	appContext := initializer.appContext
	appContext.maintenanceStop = make(chan struct{})
	appContext.maintenanceDone = make(chan struct{})

	maxAge := initializer.configuration.SMSReceive.AssemblyMaxAge
	maxKeep := initializer.configuration.Storage.MaxKeep
	interval := initializer.configuration.SMSReceive.MaintenanceEvery

	go func() {
		defer close(appContext.maintenanceDone)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-appContext.maintenanceStop:
				return
			case <-ticker.C:
				appContext.runMaintenance(maxAge, maxKeep)
			}
		}
	}()

	log.Printf("[Initializer] 维护任务启动: interval=%s", interval)
}

// runMaintenance 执行一轮维护
func (appContext *AppContext) runMaintenance(maxAge time.Duration, maxKeep int64) {
	// 分片清理要占用串口删除存储槽位,必须经由读取任务执行
	if err := appContext.Pump.Do(func() {
		appContext.Receiver.EvictStale(maxAge)
	}); err != nil {
		log.Printf("[Maintenance] 分片清理未执行: %v", err)
	}

	if maxKeep <= 0 {
		return
	}
	trimmed, err := appContext.Store.Trim(context.Background(), maxKeep)
	if err != nil {
		log.Printf("[Maintenance] 裁剪短信记录失败: %v", err)
		return
	}
	if trimmed > 0 {
		log.Printf("[Maintenance] 裁剪短信记录: %d 条", trimmed)
	}
}

//
// 外部调用接口
//

// InitAppContext 初始化应用上下文
func InitAppContext(configuration config.Config) *AppContext {
	initializer := NewApplicationInitializer(configuration)
	return initializer.Initialize()
}
