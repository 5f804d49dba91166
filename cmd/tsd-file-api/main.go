// Copyright 2026 University of Oslo
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	logmw "github.com/unioslo/tsd-file-api/internal/http/interceptors/log"
	"github.com/unioslo/tsd-file-api/internal/http/services/files"
	"github.com/unioslo/tsd-file-api/internal/http/services/metrics"
	"github.com/unioslo/tsd-file-api/pkg/config"
	"github.com/unioslo/tsd-file-api/pkg/paths"
	"github.com/unioslo/tsd-file-api/pkg/pgp"
	"github.com/unioslo/tsd-file-api/pkg/resumable"
	"github.com/unioslo/tsd-file-api/pkg/token"
)

const sweepInterval = time.Hour

func main() {
	configPath := flag.String("c", "/etc/tsd-file-api/config.yaml", "configuration file")
	flag.Parse()

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("error loading configuration")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("log_level", cfg.LogLevel).Msg("unknown log level")
	}
	log = log.Level(level)

	var keyring *pgp.Keyring
	if cfg.GPGSecring != "" {
		keyring, err = pgp.LoadKeyring(cfg.GPGSecring)
		if err != nil {
			log.Fatal().Err(err).Msg("error loading secring")
		}
	}

	verifier := token.NewVerifier(cfg.JWTSecrets)
	resolver := paths.NewResolver(cfg.UploadsRoot, cfg.SnsUploadsRoot, cfg.ExportRoot)
	uploads := resumable.New(cfg.UploadsRoot)
	m := metrics.New()

	r := chi.NewRouter()
	r.Use(logmw.New(log))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Mount("/", files.New(cfg, resolver, keyring, uploads, m).Routes(verifier))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go uploads.RunSweeper(ctx, log, sweepInterval, cfg.ResumableTTL())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
		// uploads stream for a long time; only the header read is bounded
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Int("port", cfg.Port).Msg("file api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown did not complete cleanly")
	}
}
