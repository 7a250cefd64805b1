// Command flashgate runs the exchange gateway: it subscribes to trading
// core commands on the message bus, executes them against one exchange and
// streams market data, balances and order updates back.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"flashgate/internal/alert"
	"flashgate/internal/bootstrap"
	"flashgate/internal/config"
	"flashgate/internal/core"
	"flashgate/internal/exchange"
	"flashgate/internal/exchange/driver"
	"flashgate/internal/exchange/pool"
	"flashgate/internal/gate"
	"flashgate/internal/infrastructure/health"
	"flashgate/internal/infrastructure/metrics"
	"flashgate/internal/registry"
	"flashgate/internal/transport"
)

var configFile = flag.String("config", "configs/gateway.yaml", "Path to the local configuration file")

const storeProbeTimeout = 2 * time.Second

func main() {
	flag.Parse()

	if envConfig := os.Getenv("CONFIG_FILE"); envConfig != "" {
		*configFile = envConfig
	}

	app, err := bootstrap.NewApp(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flashgate: %v\n", err)
		os.Exit(1)
	}

	if err := run(app); err != nil {
		app.Logger.Error("Gateway failed", "error", err)
		app.Alerts.Alert(context.Background(), "Gateway stopped", err.Error(), alert.Critical,
			map[string]string{"config": *configFile})
		app.Close()
		os.Exit(1)
	}
	app.Close()
}

func run(app *bootstrap.App) error {
	logger := app.Logger
	ctx := context.Background()

	doc, err := config.FetchDocument(ctx, app.Cfg.ConfigSource, logger)
	if err != nil {
		return err
	}
	gateCfg := doc.Gate()

	logger.Info("Configuration document loaded",
		"algo", doc.Algo,
		"exchange", gateCfg.Exchange.ExchangeID,
		"node", gateCfg.Info.Node,
		"instance", gateCfg.Info.Instance,
		"markets", len(doc.Tickers()))

	store, err := registry.NewStore(ctx, app.Cfg.Cache, logger)
	if err != nil {
		return fmt.Errorf("registry store: %w", err)
	}
	reg := registry.New(store, logger)
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Warn("Registry close failed", "error", err)
		}
	}()

	formatter := transport.NewFormatter(
		gateCfg.Exchange.ExchangeID,
		transport.EventNode(gateCfg.Info.Node),
		gateCfg.Info.Instance,
		doc.Algo,
	)

	tx, err := transport.Connect(ctx, transport.Config{
		URL:              gateCfg.Aeron.URL,
		SubscribeSubject: gateCfg.Aeron.SubscriberSubject(config.SubscriberCore),
		PublishSubjects: map[transport.Destination]string{
			transport.DestOrderBook: gateCfg.Aeron.PublisherSubject(config.PublisherOrderBooks),
			transport.DestBalance:   gateCfg.Aeron.PublisherSubject(config.PublisherBalances),
			transport.DestCore:      gateCfg.Aeron.PublisherSubject(config.PublisherCore),
			transport.DestLogs:      gateCfg.Aeron.PublisherSubject(config.PublisherLogs),
		},
	}, formatter, logger)
	if err != nil {
		return err
	}

	delays := doc.Delays()

	publicPool, err := buildPublicPool(doc, logger)
	if err != nil {
		_ = tx.Close()
		return err
	}

	shared, privatePool, err := buildPrivateSessions(doc, logger)
	if err != nil {
		_ = tx.Close()
		_ = publicPool.Close()
		return err
	}

	g := gate.New(gate.Config{
		Tickers:        doc.Tickers(),
		Assets:         doc.Assets(),
		OrderBookDepth: doc.OrderBookDepth(),
		Delays:         delays,
	}, gate.Deps{
		Transmitter: tx,
		Registry:    reg,
		PublicPool:  publicPool,
		PrivatePool: privatePool,
		Shared:      shared,
		Logger:      logger,
	})
	tx.SetHandler(g.Handle)
	defer func() {
		if err := g.Close(); err != nil {
			logger.Warn("Gateway close failed", "error", err)
		}
	}()

	runners := []bootstrap.Runner{g}

	if app.Cfg.Metrics.Enabled {
		healthMgr := health.NewHealthManager(logger)
		healthMgr.Register("bus", func() error {
			if !tx.IsConnected() {
				return errors.New("bus connection down")
			}
			return nil
		})
		healthMgr.Register("store", func() error {
			probeCtx, cancel := context.WithTimeout(context.Background(), storeProbeTimeout)
			defer cancel()
			_, _, err := store.Get(probeCtx, "healthcheck")
			return err
		})
		healthMgr.Register("sessions", func() error {
			if publicPool.Size() == 0 {
				return errors.New("no public sessions")
			}
			return nil
		})
		runners = append(runners, metrics.NewServer(app.Cfg.Metrics.ListenAddr, healthMgr, logger))
	}

	logger.Info("Gateway assembled",
		"public_sessions", publicPool.Size(),
		"private_accounts", len(gateCfg.Exchange.Accounts),
		"order_book_depth", doc.OrderBookDepth(),
		"sandbox", gateCfg.Exchange.IsTestKeys)

	return app.Run(runners...)
}

// buildPublicPool creates one unauthenticated session per configured public
// source address, each bound to its address. An empty list yields a single
// session on the default route.
func buildPublicPool(doc *config.Document, logger core.ILogger) (*pool.Pool, error) {
	gateCfg := doc.Gate()
	ips := gateCfg.RateLimits.APIRequestsPerSeconds.Public.IPList
	if len(ips) == 0 {
		ips = []string{""}
	}

	sessions := make([]*exchange.Exchange, 0, len(ips))
	for _, ip := range ips {
		d, err := exchange.NewDriver(gateCfg.Exchange.ExchangeID, driver.Options{
			Sandbox:   gateCfg.Exchange.IsTestKeys,
			LocalAddr: ip,
			Symbols:   doc.Tickers(),
			Nonce:     driver.MonotonicNonce,
			Logger:    logger,
		})
		if err != nil {
			closeSessions(sessions)
			return nil, fmt.Errorf("public session (%s): %w", ip, err)
		}
		sessions = append(sessions, exchange.New(d, logger))
	}

	return pool.New(sessions, doc.Delays().Public), nil
}

// buildPrivateSessions creates the shared authenticated session plus, when
// accounts are configured, the per-account pool. Private sessions bind to
// the private address list round-robin.
func buildPrivateSessions(doc *config.Document, logger core.ILogger) (*exchange.Exchange, *pool.Pool, error) {
	gateCfg := doc.Gate()
	ips := gateCfg.RateLimits.APIRequestsPerSeconds.Private.IPList

	localAddr := func(i int) string {
		if len(ips) == 0 {
			return ""
		}
		return ips[i%len(ips)]
	}

	newSession := func(creds config.Credentials, addr string) (*exchange.Exchange, error) {
		d, err := exchange.NewDriver(gateCfg.Exchange.ExchangeID, driver.Options{
			Credentials: driver.Credentials{
				APIKey:    string(creds.APIKey),
				SecretKey: string(creds.SecretKey),
				Password:  string(creds.Password),
			},
			Sandbox:   gateCfg.Exchange.IsTestKeys,
			LocalAddr: addr,
			Symbols:   doc.Tickers(),
			Nonce:     driver.MonotonicNonce,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		return exchange.New(d, logger), nil
	}

	shared, err := newSession(gateCfg.Exchange.Credentials, localAddr(0))
	if err != nil {
		return nil, nil, fmt.Errorf("shared session: %w", err)
	}

	if len(gateCfg.Exchange.Accounts) == 0 {
		return shared, nil, nil
	}

	sessions := make([]*exchange.Exchange, 0, len(gateCfg.Exchange.Accounts))
	for i, account := range gateCfg.Exchange.Accounts {
		session, err := newSession(account, localAddr(i))
		if err != nil {
			closeSessions(sessions)
			_ = shared.Close()
			return nil, nil, fmt.Errorf("account session %d: %w", i, err)
		}
		sessions = append(sessions, session)
	}

	return shared, pool.New(sessions, doc.Delays().Private), nil
}

func closeSessions(sessions []*exchange.Exchange) {
	for _, s := range sessions {
		_ = s.Close()
	}
}
