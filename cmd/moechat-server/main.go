package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"moechat-server-go/internal/bootstrap"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径，默认按 .config.yaml / config.yaml 查找")
	headless := flag.Bool("headless", false, "不打开本机音频设备，仅保留文本与Web接口")
	flag.Parse()

	fmt.Printf("[%s] [INFO] [引导] 开始启动 moechat-server...\n", time.Now().Format("2006-01-02 15:04:05.000"))
	if err := bootstrap.Run(context.Background(), bootstrap.Options{
		ConfigPath: *configPath,
		Headless:   *headless,
	}); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "moechat-server failed: %v\n", err)
		os.Exit(1)
	}
}
