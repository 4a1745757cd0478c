// cinderd runs the server: an epoll reactor serving static files and a
// small user_verify form-handling surface backed by MySQL.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kfcemployee/cinder/internal/config"
	"github.com/kfcemployee/cinder/internal/logging"
	"github.com/kfcemployee/cinder/internal/reactor"
)

func main() {
	cfg := config.Default()

	var idleTimeoutMS, logLevel int
	flag.IntVar(&cfg.Port, "port", cfg.Port, "listen port (1024..65535)")
	flag.IntVar((*int)(&cfg.Trigger), "trigger", int(cfg.Trigger), "epoll trigger mode 0..3 (listen/conn level/edge)")
	flag.IntVar(&idleTimeoutMS, "idle-timeout-ms", int(cfg.IdleTimeout.Milliseconds()), "per-connection idle timeout in ms")
	flag.BoolVar(&cfg.Linger, "linger", cfg.Linger, "enable SO_LINGER on accepted connections")
	flag.StringVar(&cfg.ResourceRoot, "resources", cfg.ResourceRoot, "static resource root directory")

	flag.StringVar(&cfg.DB.Host, "db-host", cfg.DB.Host, "MySQL host")
	flag.IntVar(&cfg.DB.Port, "db-port", cfg.DB.Port, "MySQL port")
	flag.StringVar(&cfg.DB.User, "db-user", cfg.DB.User, "MySQL user")
	flag.StringVar(&cfg.DB.Password, "db-password", cfg.DB.Password, "MySQL password")
	flag.StringVar(&cfg.DB.DBName, "db-name", cfg.DB.DBName, "MySQL database name")
	flag.IntVar(&cfg.DB.PoolSize, "db-pool-size", cfg.DB.PoolSize, "DB handle pool size")

	flag.IntVar(&cfg.WorkerCount, "workers", cfg.WorkerCount, "worker pool goroutine count")
	flag.BoolVar(&cfg.LogEnabled, "log", cfg.LogEnabled, "enable logging")
	flag.IntVar(&logLevel, "log-level", int(cfg.LogLevel), "log level: 0=debug 1=info 2=warn 3=error")
	flag.IntVar(&cfg.LogQueueSize, "log-queue-size", cfg.LogQueueSize, "async log queue depth")
	flag.Parse()

	cfg.IdleTimeout = time.Duration(idleTimeoutMS) * time.Millisecond
	cfg.LogLevel = logging.Level(logLevel)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "cinderd:", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := reactor.New(cfg)
	if err := srv.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "cinderd:", err)
		os.Exit(1)
	}
}
