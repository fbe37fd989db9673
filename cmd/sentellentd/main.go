package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
)

// main 是 Sentellent 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Fatalf("sentellentd 运行失败: %v", err)
	}
}
