// Command portcullis-admin is the operator sidekick for the authorization
// service: it publishes invalidation signals and mints API tokens.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/portcullis/pkg/auth"
	"github.com/platinummonkey/portcullis/pkg/authz"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	redisAddr := flag.String("redis", getenv("PORTCULLIS_REDIS_ADDR", "localhost:6379"), "Redis address for invalidation signals")
	postgresURL := flag.String("postgres", os.Getenv("PORTCULLIS_POSTGRES_URL"), "PostgreSQL URL for token minting")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch args[0] {
	case "invalidate-role":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		err = invalidateRole(ctx, log, *redisAddr, args[1])
	case "invalidate-departments":
		err = invalidateDepartments(ctx, log, *redisAddr)
	case "mint-token":
		if len(args) != 3 {
			usage()
			os.Exit(2)
		}
		err = mintToken(ctx, log, *postgresURL, args[1], args[2])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.WithError(err).Fatal("command failed")
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: portcullis-admin [flags] <command>

commands:
  invalidate-role <role-id>      signal that a role's grants changed
  invalidate-departments         signal that the department tree changed
  mint-token <principal-id> <name>  create an API token for a principal`)
}

func invalidateRole(ctx context.Context, log *logrus.Logger, redisAddr, rawID string) error {
	roleID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid role id %q: %w", rawID, err)
	}

	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer client.Close()

	if err := authz.PublishRoleGrantsChanged(ctx, client, roleID); err != nil {
		return fmt.Errorf("publish role invalidation: %w", err)
	}
	log.WithField("role_id", roleID).Info("role invalidation published")
	return nil
}

func invalidateDepartments(ctx context.Context, log *logrus.Logger, redisAddr string) error {
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer client.Close()

	if err := authz.PublishDepartmentTreeChanged(ctx, client); err != nil {
		return fmt.Errorf("publish department invalidation: %w", err)
	}
	log.Info("department tree invalidation published")
	return nil
}

func mintToken(ctx context.Context, log *logrus.Logger, postgresURL, rawID, name string) error {
	if postgresURL == "" {
		return fmt.Errorf("postgres URL is required (flag -postgres or PORTCULLIS_POSTGRES_URL)")
	}
	principalID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid principal id %q: %w", rawID, err)
	}

	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	token, hash, prefix, err := auth.NewTokenGenerator().GenerateToken()
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO api_tokens (principal_id, token_hash, token_prefix, name, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, principalID, hash, prefix, name, time.Now())
	if err != nil {
		return fmt.Errorf("store token: %w", err)
	}

	log.WithFields(logrus.Fields{
		"principal_id": principalID,
		"token_prefix": prefix,
	}).Info("token minted")

	// Printed once; only the hash is stored.
	fmt.Println(token)
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
