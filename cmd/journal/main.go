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

	c, err := app.BuildJournal(ctx, os.Args[1:])
	if err != nil {
		log.Fatalf("build container: %v", err)
	}
	if err := app.RunJournal(c); err != nil {
		log.Fatalf("journal: %v", err)
	}
}
