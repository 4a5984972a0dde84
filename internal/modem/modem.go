package modem

import (
	"github.com/tarm/serial"

	"sms-forwarder/internal/config"
)

// Modem 表示一个打开的 GSM 模块串口会话
//
//	port: 串口句柄
//	engine: 绑定在该串口上的 AT 命令引擎
type Modem struct {
	port   *serial.Port
	engine *Engine
}

// Open 打开串口并在其上创建 AT 命令引擎
func Open(serialConfig config.Serial, atConfig config.AT) (*Modem, error) {
	c := &serial.Config{
		Name:        serialConfig.PortName,
		Baud:        serialConfig.BaudRate,
		ReadTimeout: serialConfig.ReadTimeout,
	}
	p, err := serial.OpenPort(c)
	if err != nil {
		return nil, err
	}

	m := &Modem{
		port:   p,
		engine: NewEngine(p, atConfig),
	}

	return m, nil
}

// Engine 返回该串口上的 AT 命令引擎
func (m *Modem) Engine() *Engine {
	return m.engine
}

// Close 关闭串口（若已打开）
func (m *Modem) Close() {
	if m.port != nil {
		m.port.Close()
	}
}
