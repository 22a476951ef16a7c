package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/angelmondragon/boletos-backend/pkg/auth"
	"github.com/angelmondragon/boletos-backend/pkg/config"
	"github.com/angelmondragon/boletos-backend/pkg/enums"
	"github.com/angelmondragon/boletos-backend/pkg/logger"
	"github.com/angelmondragon/boletos-backend/pkg/security"
)

const generatedSecretLength = 40

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "secrets"})

	_ = godotenv.Load()

	cmd := flag.String("cmd", "hash", "command: hash|token")
	stdin := flag.Bool("stdin", false, "read the secret to hash from stdin (hash)")
	adminID := flag.String("admin", "", "admin id for the token; random when empty (token)")
	polo := flag.String("polo", "", "polo scope for the token (token)")
	superuser := flag.Bool("superuser", false, "mint a superuser token (token)")
	caps := flag.String("caps", "boletos:read,boletos:create,boletos:mark_paid,boletos:cancel", "comma separated capabilities (token)")
	flag.Parse()

	ctx = logg.WithField(ctx, "cmd", *cmd)

	switch *cmd {
	case "hash":
		if err := runHash(os.Stdout, os.Stdin, *stdin); err != nil {
			logg.Error(ctx, "hash failed", err)
			os.Exit(1)
		}
	case "token":
		if err := runToken(os.Stdout, *adminID, *polo, *superuser, *caps); err != nil {
			logg.Error(ctx, "token failed", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", *cmd)
		os.Exit(1)
	}
}

// runHash prints the argon2id encoding for the callback secret. Without
// -stdin a fresh secret is generated and printed alongside its hash.
func runHash(out io.Writer, in io.Reader, fromStdin bool) error {
	pwCfg, err := config.LoadPassword()
	if err != nil {
		return err
	}

	var secret string
	if fromStdin {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("read secret: %w", err)
		}
		secret = strings.TrimSpace(line)
		if secret == "" {
			return fmt.Errorf("empty secret on stdin")
		}
	} else {
		if secret, err = security.GenerateSecret(generatedSecretLength); err != nil {
			return err
		}
		fmt.Fprintf(out, "secret: %s\n", secret)
	}

	encoded, err := security.HashSecret(secret, pwCfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s=%s\n", config.EnvCallbackSecretHash, encoded)
	return nil
}

// runToken mints a development admin token. It refuses to run outside dev.
func runToken(out io.Writer, rawAdminID, polo string, superuser bool, rawCaps string) error {
	if env := os.Getenv(config.EnvAppEnv); !strings.EqualFold(env, config.AppEnvDev) {
		return fmt.Errorf("token minting is only available when %s=%s", config.EnvAppEnv, config.AppEnvDev)
	}
	jwtCfg, err := config.LoadJWT()
	if err != nil {
		return err
	}

	adminID := uuid.New()
	if strings.TrimSpace(rawAdminID) != "" {
		if adminID, err = uuid.Parse(strings.TrimSpace(rawAdminID)); err != nil {
			return fmt.Errorf("invalid admin id: %w", err)
		}
	}

	payload := auth.AccessTokenPayload{AdminID: adminID, Superuser: superuser}
	if p := strings.TrimSpace(polo); p != "" {
		payload.PoloID = &p
	}
	for _, raw := range strings.Split(rawCaps, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		capability := enums.Capability(raw)
		if !capability.IsValid() {
			return fmt.Errorf("unknown capability %q", raw)
		}
		payload.Capabilities = append(payload.Capabilities, capability)
	}

	token, err := auth.MintAccessToken(jwtCfg, time.Now(), payload)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "admin: %s\ntoken: %s\n", adminID, token)
	return nil
}
