package modem

import (
	"errors"
	"log"
	"time"
)

const pumpIdlePause = 20 * time.Millisecond

// ErrPumpStopped 读取任务已退出
var ErrPumpStopped = errors.New("serial pump stopped")

// LineHandler 处理一行来自模块的主动上报内容
type LineHandler func(line string)

// Pump 串口读取任务
// 持续排空串口并把每一行交给分发器;AT 引擎的命令交换
// 与短信接收管线都运行在该任务的调用链上,保证串口单读单写
type Pump struct {
	engine   *Engine
	handler  LineHandler
	requests chan func()
	stop     chan struct{}
	done     chan struct{}
}

// NewPump 创建串口读取任务
func NewPump(engine *Engine, handler LineHandler) *Pump {
	return &Pump{
		engine:   engine,
		handler:  handler,
		requests: make(chan func(), 8),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start 在后台 goroutine 中启动读取循环
func (p *Pump) Start() {
	go p.run()
}

// run 读取循环:逐行排空串口,行间执行外部提交的串口操作,空闲时短暂休眠
func (p *Pump) run() {
	defer close(p.done)

	log.Println("[PUMP] 串口读取任务启动")
	for {
		select {
		case <-p.stop:
			log.Println("[PUMP] 串口读取任务退出")
			return
		case request := <-p.requests:
			request()
			continue
		default:
		}

		line, err := p.engine.PollLine()
		if err != nil {
			log.Printf("[PUMP] 串口读取失败: %v", err)
			time.Sleep(time.Second)
			continue
		}

		if line == "" {
			time.Sleep(pumpIdlePause)
			continue
		}

		p.handler(line)
	}
}

// Do 在读取任务的调用链上同步执行一个串口操作
// 其他任务需要占用串口时(诊断、维护清理)必须经由该入口
func (p *Pump) Do(operation func()) error {
	executed := make(chan struct{})

	select {
	case p.requests <- func() {
		operation()
		close(executed)
	}:
	case <-p.stop:
		return ErrPumpStopped
	}

	select {
	case <-executed:
		return nil
	case <-p.stop:
		return ErrPumpStopped
	}
}

// Diagnose 在读取任务的调用链上执行引擎诊断
func (p *Pump) Diagnose() Report {
	var report Report
	if err := p.Do(func() { report = p.engine.Diagnose() }); err != nil {
		report.Classification = "诊断未执行"
		report.Hint = "串口读取任务已停止"
	}
	return report
}

// Stop 停止读取循环并等待其退出
func (p *Pump) Stop() {
	close(p.stop)
	<-p.done
}
