package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-delivery-console/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := app.NewContainerBuilder(os.Args[1:]).Build(ctx)
	if err != nil {
		log.Fatalf("build container: %v", err)
	}
	if err := app.Run(c); err != nil {
		log.Fatalf("console: %v", err)
	}
}
