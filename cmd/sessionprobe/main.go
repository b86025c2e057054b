package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/swiftdrop/authlink/internal/config"
	"github.com/swiftdrop/authlink/internal/logger"
	"github.com/swiftdrop/authlink/internal/pipeline"
	"github.com/swiftdrop/authlink/internal/realtime"
	"github.com/swiftdrop/authlink/internal/refresh"
	"github.com/swiftdrop/authlink/internal/session"
	"github.com/swiftdrop/authlink/internal/token"
)

func main() {
	configPath := flag.String("config", "authlink.yaml", "Path to the YAML configuration file")
	credsPath := flag.String("creds-path", token.DefaultPath(), "Path to the persisted session credentials")
	useEnv := flag.Bool("use-env-creds", false, "Bootstrap credentials from AUTHLINK_* environment variables")
	ping := flag.Bool("ping", true, "Run a ping operation through the request pipeline")
	socket := flag.Bool("socket", false, "Hold a realtime connection and log state transitions")
	watch := flag.Bool("watch-config", false, "Hot-reload the config file on changes")
	flag.Parse()

	log := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}
	runtime := config.NewRuntime(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *watch {
		if err := runtime.Watch(ctx, *configPath, log); err != nil {
			log.Error().Err(err).Msg("config watch unavailable")
		}
	}

	var backend token.SecureStore
	if *useEnv {
		backend = token.NewEnvStore()
		log.Info().Msg("using environment credentials")
	} else {
		backend = token.NewFileStore(*credsPath)
		log.Info().Str("path", *credsPath).Msg("using file credentials")
	}

	store := token.NewStore(backend, log)
	refresher := refresh.NewHTTPRefresher(runtime, nil, log)
	transport := realtime.NewWSTransport(runtime, log)

	sess, err := session.New(runtime, store, refresher, transport, nil, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build session")
	}
	defer sess.Close()

	sess.OnForcedLogout(func(reason refresh.LogoutReason) {
		log.Warn().Str("reason", string(reason)).Msg("session terminated by the system")
	})

	reportAuthStatus(sess, log)

	if *ping {
		runPing(ctx, sess, log)
	}

	if *socket {
		holdRealtime(ctx, sess, log)
	}
}

func reportAuthStatus(sess *session.Session, log zerolog.Logger) {
	status := sess.CheckAuthStatus()
	if !status.Authenticated {
		log.Warn().Msg("no valid session; requests will go out unauthenticated")
		return
	}
	log.Info().Msg("session authenticated")
}

func runPing(ctx context.Context, sess *session.Session, log zerolog.Logger) {
	op := &pipeline.Operation{Name: "Ping", Query: "query Ping { ping }"}
	start := time.Now()
	resp, err := sess.Do(ctx, op)
	if err != nil {
		log.Error().Err(err).Msg("ping failed")
		return
	}
	log.Info().Dur("took", time.Since(start)).RawJSON("data", respData(resp)).Msg("ping ok")
}

func respData(resp *pipeline.Response) []byte {
	if resp == nil || len(resp.Data) == 0 {
		return []byte("null")
	}
	return resp.Data
}

func holdRealtime(ctx context.Context, sess *session.Session, log zerolog.Logger) {
	bridge := sess.Realtime()
	bridge.Machine().OnChange(func(s realtime.State) {
		log.Info().Str("state", string(s)).Msg("realtime state")
	})
	if err := bridge.Connect(ctx); err != nil {
		log.Error().Err(err).Msg("realtime connect failed")
		return
	}
	<-ctx.Done()
	bridge.Disconnect()
}
