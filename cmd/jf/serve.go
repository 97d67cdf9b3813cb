package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"journalflow/internal/app"
	"journalflow/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin, actorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("JF_JWT_SECRET is required for bearer auth")
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				handler, err := server.New(server.Config{
					Engine:   rt.Engine,
					BasePath: basePath,
					Auth: server.AuthConfig{
						JWTSecret:        secret,
						AllowActorHeader: actorHeader,
						DevLogin:         devLogin,
						Logger:           rt.Logger,
					},
					Metrics: rt.Metrics.Handler(),
					Logger:  rt.Logger,
				})
				if err != nil {
					return err
				}
				if rt.Webhooks != nil {
					go rt.Webhooks.Run(ctx)
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
					defer cancel()
					if err := srv.Shutdown(shutdownCtx); err != nil {
						rt.Logger.Error("shutdown", "error", err)
					}
				}()
				rt.Logger.Info("serving journalflow API", "addr", addr, "base_path", basePath, "journal", rt.Engine.Config.Journal.ID)
				fmt.Printf("Serving journalflow API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose /auth/dev/login")
	cmd.Flags().BoolVar(&actorHeader, "allow-actor-header", false, "trust X-Actor-Id without a token")
	return cmd
}

func tokenCmd() *cobra.Command {
	var actorID string
	var roles []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with JF_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("JF_JWT_SECRET is required")
			}
			if actorID == "" {
				actorID = actor()
			}
			tok, err := server.SignToken(secret, actorID, roles, ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"access_token": tok, "token_type": "Bearer", "actor_id": actorID})
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role claim (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
