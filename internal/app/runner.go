package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/dig"

	"github.com/ariefcatur/go-delivery-console/internal/console"
	"github.com/ariefcatur/go-delivery-console/internal/httpx"
	kafkax "github.com/ariefcatur/go-delivery-console/internal/kafka"
	"github.com/ariefcatur/go-delivery-console/internal/logx"
	"github.com/ariefcatur/go-delivery-console/internal/orders"
)

const shutdownTimeout = 15 * time.Second

// Run starts the console session and its HTTP surface and blocks until the
// container context is done or either of them fails.
func Run(c *dig.Container) error {
	return c.Invoke(func(
		ctx context.Context,
		srv *http.Server,
		sess *console.Session,
		hub *httpx.Hub,
		pub orders.Publisher,
		cl *closers,
		log logx.Logger,
	) error {
		defer cl.run()

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		if ob, ok := pub.(*kafkax.Outbox); ok {
			ob.Start(runCtx)
			defer ob.Close()
		}
		go hub.Run(runCtx)

		sessErr := make(chan error, 1)
		go func() { sessErr <- sess.Run(runCtx) }()

		srvErr := make(chan error, 1)
		go func() {
			log.Info("console listening", logx.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srvErr <- err
			}
		}()

		var runErr error
		sessionDone := false
		select {
		case <-ctx.Done():
			log.Info("shutting down console")
		case err := <-sessErr:
			sessionDone = true
			runErr = fmt.Errorf("session: %w", err)
		case err := <-srvErr:
			runErr = fmt.Errorf("http server: %w", err)
		}

		shCtx, shCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			log.Warn("graceful shutdown failed", logx.Err(err))
		}
		cancel()
		if !sessionDone {
			if err := <-sessErr; err != nil && runErr == nil {
				runErr = fmt.Errorf("session: %w", err)
			}
		}
		return runErr
	})
}
