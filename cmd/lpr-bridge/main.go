package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"lpr-bridge/broadcast"
	"lpr-bridge/command"
	"lpr-bridge/config"
	"lpr-bridge/device"
	"lpr-bridge/gateway"
	blog "lpr-bridge/log"
)

const Version = "1.0"

func main() {
	flag.CommandLine.SetOutput(os.Stdout)
	configPathFlag := flag.String("config_path", "configs/config.yaml", "配置文件路径（YAML）。如果是目录，则默认读取该目录下的 config.yaml")
	versionFlag := flag.Bool("version", false, "输出版本并退出")
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stdout, "lpr-bridge %s\n\n", Version)
		_, _ = fmt.Fprintln(os.Stdout, "用法：")
		_, _ = fmt.Fprintln(os.Stdout, "  lpr-bridge [--config_path <path>] [--version] [--help]")
		_, _ = fmt.Fprintln(os.Stdout, "\n参数：")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *versionFlag {
		_, _ = fmt.Fprintln(os.Stdout, Version)
		return
	}

	configPath := resolveConfigPath(*configPathFlag)
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(err)
	}
	if err := blog.Init(cfg.Logging); err != nil {
		panic(err)
	}

	signer, err := command.NewSigner(cfg.Bridge.HMACSecret)
	if err != nil {
		blog.L().WithError(err).Error("命令签名器初始化失败")
		panic(err)
	}

	hub := broadcast.NewHub(cfg.Bridge.LiveEmitInterval.AsDuration())
	manager := device.NewManager(cfg, signer, hub)

	// 单台设备配置有误只跳过该设备，不拖垮整个桥接进程
	for _, ep := range cfg.Devices {
		if err := manager.RegisterDevice(ep); err != nil {
			blog.With(map[string]any{"device": ep.ID, "host": ep.Host, "port": ep.Port}).
				WithError(err).Error("设备登记失败，已跳过")
			continue
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	gw := gateway.NewServer(cfg.Bridge.ListenAddr, cfg.Bridge.JWTSecret, hub, manager, manager)
	go func() {
		if err := gw.ListenAndServe(); err != nil {
			blog.L().WithError(err).Error("大屏端接入服务异常退出")
			cancel()
		}
	}()

	<-ctx.Done()
	blog.L().Info("收到退出信号，开始优雅关闭")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Bridge.ShutdownTimeout.AsDuration())
	defer shutdownCancel()
	_ = gw.Shutdown(shutdownCtx)
	manager.StopAll()
	blog.L().Info("桥接进程已退出")
}

func resolveConfigPath(p string) string {
	if p == "" {
		return "configs/config.yaml"
	}
	st, err := os.Stat(p)
	if err != nil {
		return p
	}
	if st.IsDir() {
		return filepath.Join(p, "config.yaml")
	}
	return p
}

// signalContext 创建一个可被 SIGINT/SIGTERM 取消的 Context。
// 返回：
// - ctx: 监听信号并在收到信号时取消的上下文
// - cancel: 主动取消函数
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
