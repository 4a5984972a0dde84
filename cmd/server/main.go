package main

import (
	"log"
)

func main() {
	log.Println("[Main] 短信转发服务启动中...")

	runner := NewApplicationRunner()
	runner.Run()

	log.Println("[Main] 短信转发服务已停止")
}
